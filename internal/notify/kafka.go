package notify

import (
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-pos-orders/internal/clock"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Publisher is implemented by *kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// KafkaNotifier publishes every notification as a versioned envelope keyed
// by order id.
type KafkaNotifier struct {
	Producer Publisher
	Service  string
	Clock    clock.Clock
}

func (k *KafkaNotifier) EmitCreated(o orders.Order) {
	k.publish(orders.EventOrderCreated, o.ID, o)
}

func (k *KafkaNotifier) EmitUpdated(orderID string, patch map[string]any) {
	k.publish(orders.EventOrderUpdated, orderID, orders.OrderUpdatedPayload{OrderID: orderID, Updates: patch})
}

func (k *KafkaNotifier) EmitStatusChanged(orderID string, status orders.Status) {
	k.publish(orders.EventOrderStatusChanged, orderID, orders.StatusChangedPayload{OrderID: orderID, Status: status})
}

func (k *KafkaNotifier) publish(eventType, orderID string, payload any) {
	clk := k.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    clk.Now(),
		Producer:      k.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	k.Producer.Publish(orders.TopicFor(eventType), orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
