package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	p, err := UnwrapPayload[payload](json.RawMessage(`{"order_id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o1", p.OrderID)

	_, err = UnwrapPayload[payload](json.RawMessage(`"not an object"`))
	assert.Error(t, err)
}

func TestHeader(t *testing.T) {
	hs := []kafka.Header{
		{Key: "x-event-type", Value: []byte("order.created")},
		{Key: "x-event-version", Value: []byte("1")},
	}
	assert.Equal(t, "order.created", Header(hs, "x-event-type"))
	assert.Equal(t, "1", Header(hs, "x-event-version"))
	assert.Empty(t, Header(hs, "x-missing"))
}

func TestProducer_PublishDropsWhenInboxFull(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 1, nil)

	p.Publish("order.created", []byte("o1"), []byte(`{}`), kafka.Header{Key: "x-event-type", Value: []byte("order.created")})
	p.Publish("order.created", []byte("o2"), []byte(`{}`))

	require.Len(t, p.inbox, 1)
	m := <-p.inbox
	assert.Equal(t, "order.created", m.Topic)
	assert.Equal(t, "o1", string(m.Key))
	assert.Equal(t, "order.created", Header(m.Headers, "x-event-type"))
}

func TestProducer_CloseStopsLoop(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 4, nil)
	p.Start(context.Background())
	p.Close()

	done := make(chan struct{})
	go func() {
		p.WaitClosed()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer loop did not stop")
	}
}
