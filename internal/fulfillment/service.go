// Package fulfillment creates orders optimistically and moves them through
// their status machine. Writes the document store refuses are deferred to
// the durable queue for the reconciler.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-pos-orders/internal/audit"
	"github.com/ariefcatur/go-pos-orders/internal/clock"
	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/notify"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

var (
	ErrOrderNotFound = orders.ErrOrderNotFound
	ErrInvalidOrder  = errors.New("invalid order")
)

// Enqueuer is implemented by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, delay time.Duration) (queue.Operation, error)
}

type Auditor interface {
	Log(ctx context.Context, action, createdBy string, details any) error
}

type Deps struct {
	Store    docstore.Store
	Queue    Enqueuer
	Audit    Auditor
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Log      *slog.Logger
}

type Service struct {
	store    docstore.Store
	repo     *orders.Repo
	queue    Enqueuer
	audit    Auditor
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	log      *slog.Logger
	newID    func() string

	wg sync.WaitGroup
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Audit == nil {
		d.Audit = &audit.Logger{DB: d.Store, Clock: d.Clock}
	}
	return &Service{
		store:    d.Store,
		repo:     &orders.Repo{DB: d.Store},
		queue:    d.Queue,
		audit:    d.Audit,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		clock:    d.Clock,
		log:      d.Log.With("component", "fulfillment"),
		newID:    uuid.NewString,
	}
}

// Wait blocks until every background create-order job has finished.
func (s *Service) Wait() { s.wg.Wait() }

type CreateOrderInput struct {
	Items     []orders.OrderItem
	Discount  float64
	OrderType orders.OrderType
	Customer  orders.Customer
	PlacedBy  *orders.UserRef
}

type CreateOrderResult struct {
	OrderID string       `json:"orderId"`
	Order   orders.Order `json:"order"`
}

func (in CreateOrderInput) validate() error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for _, it := range in.Items {
		if it.ItemID == "" {
			return fmt.Errorf("%w: item without id", ErrInvalidOrder)
		}
		if it.Qty <= 0 {
			return fmt.Errorf("%w: qty for %s must be positive", ErrInvalidOrder, it.ItemID)
		}
	}
	if in.Discount < 0 {
		return fmt.Errorf("%w: negative discount", ErrInvalidOrder)
	}
	return nil
}

// CreateOrder builds the Pending order and returns it at once. The
// authoritative write runs in the background and reports through the
// returned Job; its failures never reach the caller.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, *Job, error) {
	if err := in.validate(); err != nil {
		return CreateOrderResult{}, nil, err
	}
	orderType := in.OrderType
	if orderType == "" {
		orderType = orders.OrderTypeInStore
	}
	items := append([]orders.OrderItem(nil), in.Items...)
	o := orders.Order{
		ID:         s.newID(),
		Items:      items,
		TotalPrice: orders.Total(items, in.Discount),
		Discount:   in.Discount,
		Status:     orders.StatusPending,
		CreatedAt:  s.clock.Now(),
		PlacedBy:   in.PlacedBy,
		OrderType:  orderType,
		Customer:   in.Customer,
	}

	job := newJob()
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.fulfill(bg, o)
		s.metrics.OrderProcessed(res.Outcome.String())
		job.finish(res)
	}()
	return CreateOrderResult{OrderID: o.ID, Order: o}, job, nil
}

type stockShortfall struct {
	errorType string
	reason    string
}

func (e *stockShortfall) Error() string { return e.reason }

func (s *Service) fulfill(ctx context.Context, o orders.Order) JobResult {
	log := s.log.With("order_id", o.ID)

	menu, err := s.repo.MenuItems(ctx, itemIDs(o.Items))
	if err != nil {
		log.Warn("menu read failed, deferring order", "error", err)
		return s.deferOrder(ctx, o, o.Items)
	}
	if _, short := check(o.Items, menu); short != nil {
		return s.cancel(ctx, o, short)
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		fresh := make(map[string]orders.MenuItem, len(menu))
		for _, id := range itemIDs(o.Items) {
			snap, err := tx.Get(ctx, orders.CollMenuItems, id)
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
			fresh[id] = it
		}
		remaining, short := check(o.Items, fresh)
		if short != nil {
			return short
		}
		for id, n := range remaining {
			if err := tx.Update(orders.CollMenuItems, id, map[string]any{"remaining_stock": n}); err != nil {
				return err
			}
		}
		return tx.Set(orders.CollOrders, o.ID, o)
	})
	if err != nil {
		log.Warn("order transaction failed, deferring order", "error", err)
		return s.deferOrder(ctx, o, o.Items)
	}

	if err := s.audit.Log(ctx, audit.ActionCreateOrder, actorOf(o.PlacedBy), map[string]any{
		"orderId":    o.ID,
		"totalPrice": o.TotalPrice,
		"items":      len(o.Items),
	}); err != nil {
		log.Warn("audit write failed", "error", err)
	}
	s.notifier.EmitCreated(o)
	log.Info("order committed", "total_price", o.TotalPrice)
	return JobResult{Outcome: OutcomeCommitted, Order: o}
}

// check validates lines against menu and returns the remaining stock per
// item after fulfilling them.
func check(lines []orders.OrderItem, menu map[string]orders.MenuItem) (map[string]int, *stockShortfall) {
	remaining := make(map[string]int, len(menu))
	for _, line := range lines {
		it, ok := menu[line.ItemID]
		if !ok {
			return nil, &stockShortfall{
				errorType: orders.ErrorItemNotFound,
				reason:    fmt.Sprintf("menu item %s not found", line.ItemID),
			}
		}
		if _, ok := remaining[line.ItemID]; !ok {
			remaining[line.ItemID] = it.RemainingStock
		}
		if remaining[line.ItemID] < line.Qty {
			return nil, &stockShortfall{
				errorType: orders.ErrorOutOfStock,
				reason: fmt.Sprintf("insufficient stock for %s: %d left, %d requested",
					it.Name, remaining[line.ItemID], line.Qty),
			}
		}
		remaining[line.ItemID] -= line.Qty
	}
	return remaining, nil
}

func (s *Service) cancel(ctx context.Context, o orders.Order, short *stockShortfall) JobResult {
	c := o.Cancelled(short.errorType, short.reason)
	if err := s.store.Set(ctx, orders.CollOrders, c.ID, c); err != nil {
		s.log.Warn("cancel write failed, deferring", "order_id", o.ID, "error", err)
		return s.deferOrder(ctx, c, nil)
	}
	s.notifier.EmitCreated(c)
	s.log.Info("order cancelled", "order_id", o.ID, "error_type", c.ErrorType, "reason", c.Reason)
	return JobResult{Outcome: OutcomeCancelled, Order: c}
}

func (s *Service) deferOrder(ctx context.Context, o orders.Order, decrement []orders.OrderItem) JobResult {
	op, err := s.queue.Enqueue(ctx, queue.CreateOrder{Order: o, ItemsToDecrement: decrement}, 0)
	if err != nil {
		s.log.Error("failed to enqueue order", "order_id", o.ID, "error", err)
		return JobResult{Outcome: OutcomeFailed, Order: o, Err: err}
	}
	s.metrics.Enqueued(string(queue.KindCreateOrder))
	return JobResult{Outcome: OutcomeQueued, Order: o, OpID: op.ID}
}

type StatusResult struct {
	ID      string        `json:"id"`
	Status  orders.Status `json:"status"`
	Pending bool          `json:"pending,omitempty"`
}

// UpdateStatus moves order id to status. When the store refuses the write
// the change is queued and the result is marked Pending.
func (s *Service) UpdateStatus(ctx context.Context, id string, status orders.Status, actor string) (StatusResult, error) {
	if !status.Valid() {
		return StatusResult{}, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidTransition, status)
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return StatusResult{}, err
	}
	if err := orders.ValidateTransition(o.Status, status); err != nil {
		return StatusResult{}, err
	}

	patch := map[string]any{"order_status": status}
	if err := s.store.Update(ctx, orders.CollOrders, id, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return StatusResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		s.log.Warn("status write failed, deferring", "order_id", id, "status", status, "error", err)
		if _, qerr := s.queue.Enqueue(ctx, queue.UpdateOrderStatus{ID: id, Status: status}, 0); qerr != nil {
			return StatusResult{}, fmt.Errorf("update order %s: %w", id, errors.Join(err, qerr))
		}
		s.metrics.Enqueued(string(queue.KindUpdateOrderStatus))
		return StatusResult{ID: id, Status: status, Pending: true}, nil
	}

	if err := s.audit.Log(ctx, audit.ActionUpdateOrderStatus, actor, map[string]any{
		"orderId": id,
		"from":    o.Status,
		"to":      status,
	}); err != nil {
		s.log.Warn("audit write failed", "order_id", id, "error", err)
	}
	s.notifier.EmitUpdated(id, patch)
	s.notifier.EmitStatusChanged(id, status)
	return StatusResult{ID: id, Status: status}, nil
}

func itemIDs(lines []orders.OrderItem) []string {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if !seen[l.ItemID] {
			seen[l.ItemID] = true
			ids = append(ids, l.ItemID)
		}
	}
	return ids
}

func actorOf(u *orders.UserRef) string {
	if u == nil {
		return ""
	}
	return u.ID
}
