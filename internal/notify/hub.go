package notify

import (
	"log/slog"
	"sync"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const defaultSubBuffer = 64

// Hub fans events out to in-process subscribers (the SSE stream). A
// subscriber that is not keeping up misses events rather than slowing the
// publisher down.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	log  *slog.Logger
}

type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: map[*Subscription]struct{}{},
		log:  logger.With("component", "hub"),
	}
}

func (h *Hub) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = defaultSubBuffer
	}
	ch := make(chan Event, buf)
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.log.Warn("subscriber lagging, event dropped", "event", ev.Type, "order_id", ev.OrderID)
		}
	}
}

func (h *Hub) EmitCreated(o orders.Order) {
	h.Publish(Event{Type: orders.EventOrderCreated, OrderID: o.ID, Order: &o})
}

func (h *Hub) EmitUpdated(orderID string, patch map[string]any) {
	h.Publish(Event{Type: orders.EventOrderUpdated, OrderID: orderID, Patch: patch})
}

func (h *Hub) EmitStatusChanged(orderID string, status orders.Status) {
	h.Publish(Event{Type: orders.EventOrderStatusChanged, OrderID: orderID, Status: status})
}
