package docstore

import (
	"errors"
	"sync"
)

// ErrSubscriberLagging ends a subscription whose consumer stopped draining.
var ErrSubscriberLagging = errors.New("subscriber lagging, subscription dropped")

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

type Change struct {
	Type ChangeType
	Doc  Snapshot
}

// Subscription delivers change deltas for one collection. Err receives at
// most one value, after which Changes is closed. Nothing reconnects a
// dropped subscription; the caller decides what to do.
type Subscription struct {
	Changes <-chan Change
	Err     <-chan error

	once   sync.Once
	cancel func()
}

func NewSubscription(changes <-chan Change, errs <-chan error, cancel func()) *Subscription {
	return &Subscription{Changes: changes, Err: errs, cancel: cancel}
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
