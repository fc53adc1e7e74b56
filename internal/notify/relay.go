package notify

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Relay forwards changes of the orders collection, whoever wrote them, to a
// notifier. A subscription error ends the relay; it does not resubscribe,
// so changes made after the error are not forwarded.
type Relay struct {
	Store    docstore.Store
	Notifier Notifier
	Log      *slog.Logger
}

func (r *Relay) Run(ctx context.Context) error {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	sub, err := r.Store.Watch(ctx, orders.CollOrders)
	if err != nil {
		log.Error("order subscription failed", "error", err)
		return err
	}
	defer sub.Cancel()
	log.Info("order change relay started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err:
			if ok && err != nil {
				log.Error("order subscription error", "error", err)
				return err
			}
			return nil
		case ch, ok := <-sub.Changes:
			if !ok {
				select {
				case err := <-sub.Err:
					log.Error("order subscription error", "error", err)
					return err
				default:
					return nil
				}
			}
			r.forward(log, ch)
		}
	}
}

func (r *Relay) forward(log *slog.Logger, ch docstore.Change) {
	var o orders.Order
	if err := ch.Doc.DataTo(&o); err != nil {
		log.Warn("undecodable order change", "order_id", ch.Doc.ID, "error", err)
		return
	}
	switch ch.Type {
	case docstore.ChangeAdded:
		r.Notifier.EmitCreated(o)
	case docstore.ChangeModified:
		r.Notifier.EmitUpdated(o.ID, map[string]any{
			"order_status": o.Status,
			"error_type":   o.ErrorType,
			"reason":       o.Reason,
		})
		r.Notifier.EmitStatusChanged(o.ID, o.Status)
	}
}
