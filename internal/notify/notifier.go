// Package notify broadcasts order changes to real-time subscribers. Delivery
// is fire-and-forget: no acknowledgement, no backpressure, no ordering
// guarantee across event types.
package notify

import (
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type Notifier interface {
	EmitCreated(o orders.Order)
	EmitUpdated(orderID string, patch map[string]any)
	EmitStatusChanged(orderID string, status orders.Status)
}

// Event is the in-process form of one notification.
type Event struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId"`
	Order   *orders.Order  `json:"order,omitempty"`
	Patch   map[string]any `json:"updates,omitempty"`
	Status  orders.Status  `json:"status,omitempty"`
}

type Nop struct{}

func (Nop) EmitCreated(orders.Order) {}
func (Nop) EmitUpdated(string, map[string]any) {}
func (Nop) EmitStatusChanged(string, orders.Status) {}

// Multi forwards every notification to each of its members.
type Multi []Notifier

func (m Multi) EmitCreated(o orders.Order) {
	for _, n := range m {
		n.EmitCreated(o)
	}
}

func (m Multi) EmitUpdated(orderID string, patch map[string]any) {
	for _, n := range m {
		n.EmitUpdated(orderID, patch)
	}
}

func (m Multi) EmitStatusChanged(orderID string, status orders.Status) {
	for _, n := range m {
		n.EmitStatusChanged(orderID, status)
	}
}
