package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-pos-orders/internal/fulfillment"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in fulfillment.CreateOrderInput) (fulfillment.CreateOrderResult, *fulfillment.Job, error)
	UpdateStatus(ctx context.Context, id string, status orders.Status, actor string) (fulfillment.StatusResult, error)
}

// OrderCache is implemented by *redisx.OrderCache.
type OrderCache interface {
	Get(ctx context.Context, id string) (orders.Order, bool, error)
	Put(ctx context.Context, o orders.Order) error
}

type OrdersHandler struct {
	Service OrderService
	Repo    *orders.Repo
	Cache   OrderCache
	Log     *slog.Logger
}

type CreateOrderReq struct {
	Items     []orders.OrderItem `json:"items"`
	Discount  float64            `json:"discount"`
	OrderType orders.OrderType   `json:"order_type"`
	Customer  orders.Customer    `json:"customer"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r = withTimeout(r)
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
}

// actor identifies the caller; authentication happens upstream.
func actor(r *http.Request) string { return r.Header.Get("X-User-Id") }

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	in := fulfillment.CreateOrderInput{
		Items:     req.Items,
		Discount:  req.Discount,
		OrderType: req.OrderType,
		Customer:  req.Customer,
	}
	if id := actor(r); id != "" {
		in.PlacedBy = &orders.UserRef{ID: id}
	}

	res, _, err := h.Service.CreateOrder(r.Context(), in)
	if errors.Is(err, fulfillment.ErrInvalidOrder) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := orders.ListParams{Status: orders.Status(q.Get("status"))}
	if p.Status != "" && !p.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	for key, dst := range map[string]*time.Time{"start": &p.Start, "end": &p.End} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad "+key+": want RFC3339")
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		p.Limit = n
	}

	list, err := h.Repo.ListOrders(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	// 1) cache
	if h.Cache != nil {
		if o, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	// 2) store
	o, err := h.Repo.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, o); err != nil {
			h.logger().Warn("cache order", "order_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, actor(r))
	switch {
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case res.Pending:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
