package orders

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusReady      Status = "Ready"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Forward-only. Cancelled is only ever written by fulfillment, never reached
// through a transition.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusInProgress: true},
	StatusInProgress: {StatusReady: true},
	StatusReady:      {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w from %q to %q", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
