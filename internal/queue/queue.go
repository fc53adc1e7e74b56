// Package queue is the durable operation queue that sits between order
// fulfillment and the remote document store. Mutations that could not be
// written are recorded here and drained later by the reconciler.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-pos-orders/internal/clock"
)

type Queue struct {
	store  atomic.Pointer[Store]
	clock  clock.Clock
	log    *slog.Logger
	ready  chan struct{}
	openMu sync.Mutex
}

func New(clk clock.Clock, logger *slog.Logger) *Queue {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		clock: clk,
		log:   logger.With("component", "queue"),
		ready: make(chan struct{}),
	}
}

// Open opens the log at path and marks the queue ready.
func (q *Queue) Open(path string) error {
	s, err := OpenStore(path)
	if err != nil {
		return err
	}
	q.Attach(s)
	q.log.Info("write queue initialized", "path", path)
	return nil
}

// Attach makes s the backing log and marks the queue ready.
func (q *Queue) Attach(s *Store) {
	q.openMu.Lock()
	defer q.openMu.Unlock()
	q.store.Store(s)
	select {
	case <-q.ready:
	default:
		close(q.ready)
	}
}

// Ready is closed once the backing log is open.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) Close() error {
	s := q.store.Swap(nil)
	if s == nil {
		return nil
	}
	return s.Close()
}

func (q *Queue) backing() (*Store, error) {
	s := q.store.Load()
	if s == nil {
		return nil, ErrStoreNotOpen
	}
	return s, nil
}

// Enqueue persists a new operation due after delay.
func (q *Queue) Enqueue(ctx context.Context, p Payload, delay time.Duration) (Operation, error) {
	s, err := q.backing()
	if err != nil {
		return Operation{}, err
	}
	now := q.clock.Now()
	op := Operation{
		ID:            uuid.NewString(),
		Payload:       p,
		NextAttemptAt: now.Add(delay),
		CreatedAt:     now,
	}
	b, err := json.Marshal(op)
	if err != nil {
		return Operation{}, fmt.Errorf("encode operation: %w", err)
	}
	if err := s.Put(ctx, op.ID, b); err != nil {
		return Operation{}, err
	}
	// Return the record as stored (ms precision).
	op.NextAttemptAt = time.UnixMilli(op.NextAttemptAt.UnixMilli()).UTC()
	op.CreatedAt = time.UnixMilli(op.CreatedAt.UnixMilli()).UTC()
	return op, nil
}

// ListPending returns every operation with NextAttemptAt <= now, in no
// particular order. Entries that fail to decode are skipped.
func (q *Queue) ListPending(ctx context.Context, now time.Time) ([]Operation, error) {
	s, err := q.backing()
	if err != nil {
		return nil, err
	}
	var ops []Operation
	err = s.Scan(ctx, func(key string, value []byte) error {
		var op Operation
		if err := json.Unmarshal(value, &op); err != nil {
			q.log.Warn("skipping corrupted queue entry", "key", key, "error", err)
			return nil
		}
		if !op.NextAttemptAt.After(now) {
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Update overwrites the stored record of op.
func (q *Queue) Update(ctx context.Context, op Operation) error {
	s, err := q.backing()
	if err != nil {
		return err
	}
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return s.Put(ctx, op.ID, b)
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	s, err := q.backing()
	if err != nil {
		return err
	}
	_, err = s.Delete(ctx, id)
	return err
}

// DeadLetter takes op out of the live log and keeps it, with reason, for
// manual inspection.
func (q *Queue) DeadLetter(ctx context.Context, op Operation, reason string) error {
	s, err := q.backing()
	if err != nil {
		return err
	}
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return s.MoveToDeadLetter(ctx, op.ID, b, reason, q.clock.Now().UnixMilli())
}

// Entry is one raw record as seen by the admin surface. Err is set when the
// record does not decode.
type Entry struct {
	Key       string
	Operation Operation
	Err       error
}

// Entries lists every live record, due or not, including corrupted ones.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	s, err := q.backing()
	if err != nil {
		return nil, err
	}
	var out []Entry
	err = s.Scan(ctx, func(key string, value []byte) error {
		e := Entry{Key: key}
		if err := json.Unmarshal(value, &e.Operation); err != nil {
			e.Err = err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Delete removes one record by key and reports whether it existed.
func (q *Queue) Delete(ctx context.Context, id string) (bool, error) {
	s, err := q.backing()
	if err != nil {
		return false, err
	}
	return s.Delete(ctx, id)
}

func (q *Queue) Clear(ctx context.Context) (int, error) {
	s, err := q.backing()
	if err != nil {
		return 0, err
	}
	return s.Clear(ctx)
}

type DeadLetter struct {
	Entry
	Reason   string
	FailedAt time.Time
}

func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	s, err := q.backing()
	if err != nil {
		return nil, err
	}
	recs, err := s.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(recs))
	for _, r := range recs {
		d := DeadLetter{
			Entry:    Entry{Key: r.Key},
			Reason:   r.Reason,
			FailedAt: time.UnixMilli(r.FailedAtMs).UTC(),
		}
		if err := json.Unmarshal(r.Value, &d.Operation); err != nil {
			d.Err = err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteDeadLetter discards one dead letter and reports whether it existed.
func (q *Queue) DeleteDeadLetter(ctx context.Context, id string) (bool, error) {
	s, err := q.backing()
	if err != nil {
		return false, err
	}
	return s.DeleteDeadLetter(ctx, id)
}

// Depth counts live records; it is used for the queue depth gauge.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	s, err := q.backing()
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.Scan(ctx, func(string, []byte) error { n++; return nil })
	return n, err
}

// IsNotOpen reports whether err means the log has not been opened yet.
func IsNotOpen(err error) bool { return errors.Is(err, ErrStoreNotOpen) }
