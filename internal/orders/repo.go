package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/google/uuid"
)

var ErrOrderNotFound = errors.New("order not found")

const DefaultListLimit = 50

type Repo struct{ DB docstore.Store }

type ListParams struct {
	Status Status
	Start  time.Time
	End    time.Time
	Limit  int
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	snap, err := r.DB.Get(ctx, CollOrders, id)
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	if !snap.Exists() {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	var o Order
	if err := snap.DataTo(&o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListOrders returns the newest orders first.
func (r *Repo) ListOrders(ctx context.Context, p ListParams) ([]Order, error) {
	q := docstore.Query{
		Collection: CollOrders,
		OrderBy:    "order_date",
		OrderAs:    docstore.SortTime,
		Desc:       true,
		Limit:      p.Limit,
	}
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if p.Status != "" {
		q = q.Where("order_status", docstore.OpEq, string(p.Status))
	}
	if !p.Start.IsZero() {
		q = q.Where("order_date", docstore.OpGte, p.Start)
	}
	if !p.End.IsZero() {
		q = q.Where("order_date", docstore.OpLte, p.End)
	}
	snaps, err := r.DB.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Order, 0, len(snaps))
	for _, s := range snaps {
		var o Order
		if err := s.DataTo(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repo) ListMenu(ctx context.Context) ([]MenuItem, error) {
	snaps, err := r.DB.Query(ctx, docstore.Query{Collection: CollMenuItems, OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list menu: %w", err)
	}
	out := make([]MenuItem, 0, len(snaps))
	for _, s := range snaps {
		var m MenuItem
		if err := s.DataTo(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MenuItems reads the referenced items; ids with no document are absent
// from the map.
func (r *Repo) MenuItems(ctx context.Context, ids []string) (map[string]MenuItem, error) {
	snaps, err := r.DB.GetAll(ctx, CollMenuItems, ids)
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}
	out := make(map[string]MenuItem, len(snaps))
	for _, s := range snaps {
		var m MenuItem
		if err := s.DataTo(&m); err != nil {
			return nil, err
		}
		out[s.ID] = m
	}
	return out, nil
}

var DefaultMenu = []MenuItem{
	{Name: "Pizza", Price: 10, TotalStock: 100, RemainingStock: 100},
	{Name: "Burger", Price: 7, TotalStock: 100, RemainingStock: 100},
	{Name: "Sandwich", Price: 5, TotalStock: 100, RemainingStock: 100},
	{Name: "Icecream", Price: 4, TotalStock: 100, RemainingStock: 100},
	{Name: "Cold drink", Price: 3, TotalStock: 100, RemainingStock: 100},
	{Name: "Pasta", Price: 8, TotalStock: 100, RemainingStock: 0},
}

// SeedMenu inserts every item whose name is not on the menu yet and returns
// how many were added.
func (r *Repo) SeedMenu(ctx context.Context, items []MenuItem) (int, error) {
	added := 0
	for _, it := range items {
		existing, err := r.DB.Query(ctx, docstore.Query{Collection: CollMenuItems, Limit: 1}.
			Where("name", docstore.OpEq, it.Name))
		if err != nil {
			return added, fmt.Errorf("seed menu %q: %w", it.Name, err)
		}
		if len(existing) > 0 {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if err := r.DB.Set(ctx, CollMenuItems, it.ID, it); err != nil {
			return added, fmt.Errorf("seed menu %q: %w", it.Name, err)
		}
		added++
	}
	return added, nil
}
