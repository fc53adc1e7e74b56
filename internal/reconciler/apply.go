package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

// ErrPermanent marks an operation that can never succeed; it is moved to the
// dead-letter table instead of being retried.
var ErrPermanent = errors.New("permanent failure")

type result int

const (
	resultApplied result = iota
	resultDropped
)

func (r *Reconciler) apply(ctx context.Context, op queue.Operation) (result, error) {
	switch p := op.Payload.(type) {
	case queue.CreateOrder:
		return r.applyCreateOrder(ctx, p)
	case queue.UpdateOrderStatus:
		return r.applyStatus(ctx, p)
	case queue.DecrementStock:
		return r.applyDecrement(ctx, p)
	case queue.Unknown:
		return resultApplied, fmt.Errorf("%w: unknown operation type %q", ErrPermanent, p.Type)
	default:
		return resultApplied, fmt.Errorf("%w: unhandled payload %T", ErrPermanent, op.Payload)
	}
}

// applyCreateOrder writes a deferred order. Stock is validated again against
// the menu as it is now; an order that no longer fits is committed as
// Cancelled without touching stock. An order doc that already exists means an
// earlier replay committed, so nothing is written.
func (r *Reconciler) applyCreateOrder(ctx context.Context, p queue.CreateOrder) (result, error) {
	var (
		final   orders.Order
		written bool
	)
	err := r.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		written = false
		existing, err := tx.Get(ctx, orders.CollOrders, p.Order.ID)
		if err != nil {
			return err
		}
		if existing.Exists() {
			return nil
		}

		menu := make(map[string]orders.MenuItem, len(p.ItemsToDecrement))
		for _, line := range p.ItemsToDecrement {
			if _, seen := menu[line.ItemID]; seen {
				continue
			}
			snap, err := tx.Get(ctx, orders.CollMenuItems, line.ItemID)
			if err != nil {
				return err
			}
			if !snap.Exists() {
				continue
			}
			var it orders.MenuItem
			if err := snap.DataTo(&it); err != nil {
				return err
			}
			menu[line.ItemID] = it
		}

		order, stock, cancel := resolve(p, menu)
		if cancel != nil {
			final = *cancel
			written = true
			return tx.Set(orders.CollOrders, final.ID, final)
		}
		for id, remaining := range stock {
			if err := tx.Update(orders.CollMenuItems, id, map[string]any{"remaining_stock": remaining}); err != nil {
				return err
			}
		}
		final = order
		written = true
		return tx.Set(orders.CollOrders, final.ID, final)
	})
	if err != nil {
		return resultApplied, fmt.Errorf("replay order %s: %w", p.Order.ID, err)
	}
	if !written {
		r.Log.Info("order already written, skipping replay", "order_id", p.Order.ID)
		return resultApplied, nil
	}
	r.Notifier.EmitCreated(final)
	return resultApplied, nil
}

// resolve re-derives the order from the current menu. It returns the order to
// write with the new remaining stock per item, or a cancelled snapshot when a
// line references a missing item or exceeds stock.
func resolve(p queue.CreateOrder, menu map[string]orders.MenuItem) (orders.Order, map[string]int, *orders.Order) {
	order := p.Order
	if order.Status == orders.StatusCancelled {
		return order, nil, &order
	}

	lines := make([]orders.OrderItem, 0, len(p.ItemsToDecrement))
	stock := make(map[string]int, len(menu))
	for _, line := range p.ItemsToDecrement {
		it, ok := menu[line.ItemID]
		if !ok {
			c := order.Cancelled(orders.ErrorItemNotFound, fmt.Sprintf("menu item %s not found", line.ItemID))
			return order, nil, &c
		}
		if _, ok := stock[line.ItemID]; !ok {
			stock[line.ItemID] = it.RemainingStock
		}
		if stock[line.ItemID] < line.Qty {
			c := order.Cancelled(orders.ErrorOutOfStock,
				fmt.Sprintf("insufficient stock for %s: %d left, %d requested", it.Name, stock[line.ItemID], line.Qty))
			return order, nil, &c
		}
		stock[line.ItemID] -= line.Qty
		if line.Name == "" {
			line.Name = it.Name
		}
		if line.Price == 0 {
			line.Price = it.Price
		}
		lines = append(lines, line)
	}
	if len(order.Items) == 0 && len(lines) > 0 {
		order.Items = lines
		order.TotalPrice = orders.Total(lines, order.Discount)
	}
	return order, stock, nil
}

func (r *Reconciler) applyStatus(ctx context.Context, p queue.UpdateOrderStatus) (result, error) {
	snap, err := r.Store.Get(ctx, orders.CollOrders, p.ID)
	if err != nil {
		return resultApplied, fmt.Errorf("read order %s: %w", p.ID, err)
	}
	if !snap.Exists() {
		r.Log.Warn("order not found, dropping status update", "order_id", p.ID, "status", p.Status)
		return resultDropped, nil
	}

	patch := map[string]any{"order_status": p.Status}
	if p.ErrorType != "" {
		patch["error_type"] = p.ErrorType
	}
	if p.Reason != "" {
		patch["reason"] = p.Reason
	}
	if err := r.Store.Update(ctx, orders.CollOrders, p.ID, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			r.Log.Warn("order not found, dropping status update", "order_id", p.ID, "status", p.Status)
			return resultDropped, nil
		}
		return resultApplied, fmt.Errorf("update order %s: %w", p.ID, err)
	}
	r.Notifier.EmitUpdated(p.ID, patch)
	r.Notifier.EmitStatusChanged(p.ID, p.Status)
	return resultApplied, nil
}

func (r *Reconciler) applyDecrement(ctx context.Context, p queue.DecrementStock) (result, error) {
	qty, err := p.Qty.Int()
	if err != nil {
		return resultApplied, fmt.Errorf("%w: decrement %s: %v", ErrPermanent, p.ItemID, err)
	}
	err = r.Store.Increment(ctx, orders.CollMenuItems, p.ItemID, "remaining_stock", -float64(qty))
	if errors.Is(err, docstore.ErrNotFound) {
		return resultApplied, fmt.Errorf("%w: decrement %s: %v", ErrPermanent, p.ItemID, err)
	}
	if err != nil {
		return resultApplied, fmt.Errorf("decrement %s: %w", p.ItemID, err)
	}
	return resultApplied, nil
}
