package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) EmitCreated(o orders.Order) {
	r.add(Event{Type: orders.EventOrderCreated, OrderID: o.ID, Order: &o})
}

func (r *recorder) EmitUpdated(id string, patch map[string]any) {
	r.add(Event{Type: orders.EventOrderUpdated, OrderID: id, Patch: patch})
}

func (r *recorder) EmitStatusChanged(id string, s orders.Status) {
	r.add(Event{Type: orders.EventOrderStatusChanged, OrderID: id, Status: s})
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestHub_PublishAndCancel(t *testing.T) {
	h := NewHub(nil)
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	assert.Equal(t, 2, h.Subscribers())

	h.EmitStatusChanged("o1", orders.StatusReady)

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C:
			assert.Equal(t, orders.EventOrderStatusChanged, ev.Type)
			assert.Equal(t, orders.StatusReady, ev.Status)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	a.Cancel()
	a.Cancel()
	assert.Equal(t, 1, h.Subscribers())
	_, open := <-a.C
	assert.False(t, open)
}

func TestHub_SlowSubscriberMissesEvents(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe(1)
	h.EmitCreated(orders.Order{ID: "o1"})
	h.EmitCreated(orders.Order{ID: "o2"})

	ev := <-s.C
	assert.Equal(t, "o1", ev.OrderID)
	select {
	case ev := <-s.C:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b, Nop{}}
	m.EmitCreated(orders.Order{ID: "o1"})
	m.EmitUpdated("o1", map[string]any{"order_status": "Ready"})
	assert.Equal(t, a.types(), b.types())
	assert.Len(t, a.types(), 2)
}

type fakePublisher struct {
	topics []string
	keys   []string
	values [][]byte
}

func (p *fakePublisher) Publish(topic string, key, value []byte, _ ...kafkago.Header) {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
}

func TestKafkaNotifier_PublishesEnvelopes(t *testing.T) {
	pub := &fakePublisher{}
	k := &KafkaNotifier{Producer: pub, Service: "pos"}

	k.EmitCreated(orders.Order{ID: "o1", Status: orders.StatusPending})
	k.EmitStatusChanged("o1", orders.StatusInProgress)

	assert.Equal(t, []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}, pub.topics)
	assert.Equal(t, []string{"o1", "o1"}, pub.keys)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(pub.values[1], &env))
	assert.Equal(t, orders.EventOrderStatusChanged, env.EventType)
	assert.Equal(t, "pos", env.Producer)
	assert.NotEmpty(t, env.EventID)
	assert.JSONEq(t, `{"orderId":"o1","status":"In Progress"}`, string(env.Payload))
}

type memDedup struct{ seen map[string]bool }

func (d *memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func TestFanout_DeliversOnceAndIgnoresGarbage(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	k := &KafkaNotifier{Producer: pub, Service: "pos"}
	k.EmitCreated(orders.Order{ID: "o1"})
	k.EmitUpdated("o1", map[string]any{"order_status": "Ready"})

	sink := &recorder{}
	f := &Fanout{Sink: sink, Dedup: &memDedup{seen: map[string]bool{}}}
	for _, v := range pub.values {
		require.NoError(t, f.Handle(ctx, kafkago.Message{Value: v}))
	}
	// redelivery
	require.NoError(t, f.Handle(ctx, kafkago.Message{Value: pub.values[0]}))
	require.NoError(t, f.Handle(ctx, kafkago.Message{Value: []byte("{broken")}))

	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderUpdated}, sink.types())
}

func TestFanout_LogsUndecodablePayload(t *testing.T) {
	var logs bytes.Buffer
	sink := &recorder{}
	f := &Fanout{Sink: sink, Log: slog.New(slog.NewTextHandler(&logs, nil))}

	env := orders.Envelope{
		EventID:   "ev-1",
		EventType: orders.EventOrderStatusChanged,
		Payload:   json.RawMessage(`"not an object"`),
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), kafkago.Message{Topic: orders.TopicOrderStatusChanged, Value: b}))
	assert.Empty(t, sink.types())
	assert.Contains(t, logs.String(), "undecodable payload dropped")
	assert.Contains(t, logs.String(), "event_id=ev-1")
}

func TestRelay_ForwardsOrderChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := docstore.NewMemory()
	sink := &recorder{}
	r := &Relay{Store: db, Notifier: sink}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// the subscription is registered asynchronously
	require.Eventually(t, func() bool {
		_ = db.Set(ctx, orders.CollOrders, "warmup", orders.Order{ID: "warmup"})
		return len(sink.types()) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, db.Set(ctx, orders.CollOrders, "o1", orders.Order{ID: "o1", Status: orders.StatusPending}))
	require.NoError(t, db.Update(ctx, orders.CollOrders, "o1", map[string]any{"order_status": orders.StatusReady}))
	require.NoError(t, db.Set(ctx, orders.CollMenuItems, "pizza", orders.MenuItem{ID: "pizza"}))

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, e := range sink.events {
			if e.OrderID == "o1" && e.Type == orders.EventOrderStatusChanged && e.Status == orders.StatusReady {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	for _, e := range sink.events {
		assert.NotEqual(t, "pizza", e.OrderID)
	}
	sink.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
