package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"affiliatehub/internal/common/api"
	"affiliatehub/internal/ledger"
)

// Handler handles balance HTTP requests
type Handler struct {
	service *ledger.Service
}

// NewHandler creates a new balance handler
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the balance routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{userID}", h.GetBalance)
	r.Get("/{userID}/entries", h.ListEntries)
	r.Get("/{userID}/commissions", h.ListCommissions)

	return r
}

// GetBalance handles GET /{userID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.InternalError(w, "failed to get balance")
		return
	}
	api.WriteData(w, http.StatusOK, balance)
}

// ListEntries handles GET /{userID}/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	p := api.GetPaginationParams(r, 50, 100)
	entries, err := h.service.ListEntries(r.Context(), chi.URLParam(r, "userID"), p.Limit+1, p.Offset)
	if err != nil {
		api.InternalError(w, "failed to list entries")
		return
	}
	hasMore := len(entries) > p.Limit
	if hasMore {
		entries = entries[:p.Limit]
	}
	api.WritePaginated(w, entries, &api.Pagination{Limit: p.Limit, Offset: p.Offset, HasMore: hasMore})
}

// ListCommissions handles GET /{userID}/commissions
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	p := api.GetPaginationParams(r, 50, 100)
	commissions, err := h.service.ListCommissions(r.Context(), chi.URLParam(r, "userID"), p.Limit+1, p.Offset)
	if err != nil {
		api.InternalError(w, "failed to list commissions")
		return
	}
	hasMore := len(commissions) > p.Limit
	if hasMore {
		commissions = commissions[:p.Limit]
	}
	api.WritePaginated(w, commissions, &api.Pagination{Limit: p.Limit, Offset: p.Offset, HasMore: hasMore})
}
