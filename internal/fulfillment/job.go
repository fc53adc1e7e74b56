package fulfillment

import (
	"context"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Outcome is how the background phase of a create-order request ended.
type Outcome int

const (
	// OutcomeCommitted: order and stock decrements written in one transaction.
	OutcomeCommitted Outcome = iota + 1
	// OutcomeCancelled: the order was written as Cancelled.
	OutcomeCancelled
	// OutcomeQueued: the write was deferred to the queue.
	OutcomeQueued
	// OutcomeFailed: the write could not be made nor deferred.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeQueued:
		return "queued"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type JobResult struct {
	Outcome Outcome
	Order   orders.Order
	// OpID is set when the write was deferred.
	OpID string
	Err  error
}

// Job tracks the background phase of one create-order request.
type Job struct {
	done chan struct{}
	res  JobResult
}

func newJob() *Job { return &Job{done: make(chan struct{})} }

func (j *Job) finish(r JobResult) {
	j.res = r
	close(j.done)
}

// Done is closed when the background phase has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result is only meaningful after Done is closed.
func (j *Job) Result() JobResult { return j.res }

func (j *Job) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	case <-j.done:
		return j.res, nil
	}
}
