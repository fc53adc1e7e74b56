package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-pos-orders/internal/menu"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type MenuHandler struct {
	Menu *menu.Service
}

type menuResp struct {
	Items []orders.MenuItem `json:"items"`
	Stale bool              `json:"stale,omitempty"`
}

func (h *MenuHandler) Register(r chi.Router) {
	withTimeout(r).Get("/menu", h.list)
}

func (h *MenuHandler) list(w http.ResponseWriter, r *http.Request) {
	l, err := h.Menu.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, menuResp{Items: l.Items, Stale: l.Stale})
}
