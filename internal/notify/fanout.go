package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

// Fanout consumes order envelopes from Kafka and republishes them to a
// local sink, usually the Hub behind the SSE stream. Redelivered envelopes
// are dropped.
type Fanout struct {
	Sink  Notifier
	Dedup Deduper
	Log   *slog.Logger
}

// Handle is a kafka.Handler.
func (f *Fanout) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		f.logger().Warn("undecodable envelope dropped", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}

	if f.Dedup != nil && env.EventID != "" {
		first, err := f.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			return nil
		}
	}

	switch env.EventType {
	case orders.EventOrderCreated:
		o, err := kafkax.UnwrapPayload[orders.Order](env.Payload)
		if err != nil {
			f.dropPayload(m, env, err)
			return nil
		}
		f.Sink.EmitCreated(o)
	case orders.EventOrderUpdated:
		p, err := kafkax.UnwrapPayload[orders.OrderUpdatedPayload](env.Payload)
		if err != nil {
			f.dropPayload(m, env, err)
			return nil
		}
		f.Sink.EmitUpdated(p.OrderID, p.Updates)
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			f.dropPayload(m, env, err)
			return nil
		}
		f.Sink.EmitStatusChanged(p.OrderID, p.Status)
	default:
		// not ours
	}
	return nil
}

func (f *Fanout) dropPayload(m kafkago.Message, env orders.Envelope, err error) {
	f.logger().Warn("undecodable payload dropped",
		"topic", m.Topic, "offset", m.Offset,
		"event_id", env.EventID, "event_type", env.EventType, "error", err)
}

func (f *Fanout) logger() *slog.Logger {
	if f.Log == nil {
		return slog.Default()
	}
	return f.Log
}

// Topics lists every topic Fanout understands.
func Topics() []string {
	return []string{orders.TopicOrderCreated, orders.TopicOrderUpdated, orders.TopicOrderStatusChanged}
}
