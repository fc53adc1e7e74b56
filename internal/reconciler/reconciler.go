// Package reconciler drains the write queue against the remote document
// store: one sweep at a time, operations applied sequentially, failures
// rescheduled with capped exponential backoff.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/clock"
	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/notify"
	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

type Config struct {
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		BackoffBase: time.Second,
		BackoffCap:  5 * time.Minute,
	}
}

// Queue is the part of *queue.Queue the reconciler consumes.
type Queue interface {
	Ready() <-chan struct{}
	ListPending(ctx context.Context, now time.Time) ([]queue.Operation, error)
	Update(ctx context.Context, op queue.Operation) error
	Remove(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, op queue.Operation, reason string) error
	Depth(ctx context.Context) (int, error)
}

type Reconciler struct {
	Queue    Queue
	Store    docstore.Store
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Log      *slog.Logger
	Config   Config
}

// Stats summarises one sweep.
type Stats struct {
	Applied      int
	Retried      int
	Dropped      int
	DeadLettered int
}

func (r *Reconciler) init() {
	if r.Clock == nil {
		r.Clock = clock.NewSystem()
	}
	if r.Log == nil {
		r.Log = slog.Default().With("component", "reconciler")
	}
	if r.Notifier == nil {
		r.Notifier = notify.Nop{}
	}
	def := DefaultConfig()
	if r.Config.Interval <= 0 {
		r.Config.Interval = def.Interval
	}
	if r.Config.BackoffBase <= 0 {
		r.Config.BackoffBase = def.BackoffBase
	}
	if r.Config.BackoffCap <= 0 {
		r.Config.BackoffCap = def.BackoffCap
	}
}

// Run blocks until ctx is done. It waits for the queue to be ready, sweeps
// once, then sweeps every Config.Interval. Sweeps never overlap.
func (r *Reconciler) Run(ctx context.Context) {
	r.init()
	select {
	case <-ctx.Done():
		return
	case <-r.Queue.Ready():
	}
	r.Log.Info("reconciler background worker started", "interval", r.Config.Interval)

	ticker := time.NewTicker(r.Config.Interval)
	defer ticker.Stop()
	for {
		r.runSweep(ctx)
		select {
		case <-ctx.Done():
			r.Log.Info("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) runSweep(ctx context.Context) {
	start := time.Now()
	_, err := r.Sweep(ctx)
	r.Metrics.SweepFinished(time.Since(start))
	switch {
	case err == nil:
	case queue.IsNotOpen(err), errors.Is(err, context.Canceled):
		// queue not open yet or shutting down
	default:
		r.Log.Error("error processing queue", "error", err)
	}
	if n, err := r.Queue.Depth(ctx); err == nil {
		r.Metrics.QueueDepth(n)
	}
}

// Sweep processes every due operation once. A queue-level failure ends the
// sweep early and is returned; per-operation failures are rescheduled.
func (r *Reconciler) Sweep(ctx context.Context) (Stats, error) {
	r.init()
	var st Stats
	ops, err := r.Queue.ListPending(ctx, r.Clock.Now())
	if err != nil {
		return st, err
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := r.process(ctx, op, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (r *Reconciler) process(ctx context.Context, op queue.Operation, st *Stats) error {
	kind := string(op.Kind())
	res, err := r.apply(ctx, op)
	switch {
	case err == nil:
		if err := r.Queue.Remove(ctx, op.ID); err != nil {
			return fmt.Errorf("remove op %s: %w", op.ID, err)
		}
		if res == resultDropped {
			st.Dropped++
			r.Metrics.OperationProcessed(kind, "dropped")
			return nil
		}
		st.Applied++
		r.Metrics.OperationProcessed(kind, "applied")
		r.Log.Info("successfully processed op", "op_id", op.ID, "type", kind)
		return nil

	case errors.Is(err, ErrPermanent):
		if err := r.Queue.DeadLetter(ctx, op, err.Error()); err != nil {
			return fmt.Errorf("dead-letter op %s: %w", op.ID, err)
		}
		st.DeadLettered++
		r.Metrics.OperationProcessed(kind, "dead_lettered")
		r.Log.Error("op can never succeed, moved to dead letters", "op_id", op.ID, "type", kind, "error", err)
		return nil

	default:
		op.Attempts++
		delay := Backoff(op.Attempts, r.Config.BackoffBase, r.Config.BackoffCap)
		op.NextAttemptAt = r.Clock.Now().Add(delay)
		if err := r.Queue.Update(ctx, op); err != nil {
			return fmt.Errorf("reschedule op %s: %w", op.ID, err)
		}
		st.Retried++
		r.Metrics.OperationProcessed(kind, "retried")
		r.Log.Warn("failed to process op, retry scheduled",
			"op_id", op.ID, "type", kind, "attempt", op.Attempts, "retry_in", delay, "error", err)
		return nil
	}
}

// Backoff returns min(capDelay, base·2^attempts).
func Backoff(attempts int, base, capDelay time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		if d >= capDelay {
			return capDelay
		}
		d *= 2
	}
	if d > capDelay {
		return capDelay
	}
	return d
}
