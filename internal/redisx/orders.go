package redisx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// OrderCache keeps recently read orders. It also implements the change
// notifier so that any write, including a replayed one, evicts the entry.
type OrderCache struct {
	c   *JSONCache
	log *slog.Logger
}

func NewOrderCache(c *JSONCache, logger *slog.Logger) *OrderCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderCache{c: c, log: logger.With("component", "order-cache")}
}

func (oc *OrderCache) Get(ctx context.Context, id string) (orders.Order, bool, error) {
	var o orders.Order
	ok, err := oc.c.Get(ctx, fmt.Sprintf(KeyOrder, id), &o)
	return o, ok, err
}

func (oc *OrderCache) Put(ctx context.Context, o orders.Order) error {
	return oc.c.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), o, TTLOrderCache)
}

func (oc *OrderCache) Evict(ctx context.Context, id string) error {
	return oc.c.Delete(ctx, fmt.Sprintf(KeyOrder, id))
}

func (oc *OrderCache) evict(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := oc.Evict(ctx, id); err != nil {
		oc.log.Warn("evict cached order", "order_id", id, "error", err)
	}
}

func (oc *OrderCache) EmitCreated(o orders.Order) { oc.evict(o.ID) }
func (oc *OrderCache) EmitUpdated(id string, _ map[string]any) { oc.evict(id) }
func (oc *OrderCache) EmitStatusChanged(id string, _ orders.Status) { oc.evict(id) }
