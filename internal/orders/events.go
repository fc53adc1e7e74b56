package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "order:created"
	EventOrderUpdated       = "order:updated"
	EventOrderStatusChanged = "order:statusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads per event ----

type OrderUpdatedPayload struct {
	OrderID string         `json:"orderId"`
	Updates map[string]any `json:"updates"`
}

type StatusChangedPayload struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
}

// TopicFor maps an event type to the Kafka topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderUpdated:
		return TopicOrderUpdated
	default:
		return TopicOrderStatusChanged
	}
}
