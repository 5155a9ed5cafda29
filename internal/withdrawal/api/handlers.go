package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"affiliatehub/internal/common/api"
	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/middleware"
	"affiliatehub/internal/ledger/domain"
	"affiliatehub/internal/withdrawal"
)

// Handler handles withdrawal HTTP requests
type Handler struct {
	service *withdrawal.Service
}

// NewHandler creates a new withdrawal handler
func NewHandler(service *withdrawal.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the user-facing withdrawal routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	return r
}

// AdminRoutes returns the review routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{id}/decision", h.Decide)
	r.Post("/{id}/complete", h.Complete)

	return r
}

// Create handles POST /
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req withdrawal.CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	wr, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "failed to create withdrawal")
		return
	}
	api.WriteData(w, http.StatusCreated, wr)
}

// Get handles GET /{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wr, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to get withdrawal")
		return
	}
	api.WriteData(w, http.StatusOK, wr)
}

// List handles GET /?user_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		api.BadRequest(w, "user_id is required")
		return
	}
	p := api.GetPaginationParams(r, 50, 100)
	list, err := h.service.ListByUser(r.Context(), userID, p.Limit+1, p.Offset)
	if err != nil {
		api.InternalError(w, "failed to list withdrawals")
		return
	}
	hasMore := len(list) > p.Limit
	if hasMore {
		list = list[:p.Limit]
	}
	api.WritePaginated(w, list, &api.Pagination{Limit: p.Limit, Offset: p.Offset, HasMore: hasMore})
}

// DecisionRequest is the admin review payload
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
}

// Decide handles POST /{id}/decision
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	wr, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), withdrawal.Status(req.Decision), middleware.GetActor(r.Context()))
	if err != nil {
		writeServiceError(w, err, "failed to apply decision")
		return
	}
	api.WriteData(w, http.StatusOK, wr)
}

// CompleteRequest confirms an external payout
type CompleteRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required,max=255"`
}

// Complete handles POST /{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	wr, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"), req.PaymentReference, middleware.GetActor(r.Context()))
	if err != nil {
		writeServiceError(w, err, "failed to complete withdrawal")
		return
	}
	api.WriteData(w, http.StatusOK, wr)
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case database.IsNotFound(err):
		api.NotFound(w, "withdrawal not found")
	case errors.Is(err, domain.ErrInsufficientBalance):
		api.Conflict(w, api.ErrCodeInsufficientFunds, "insufficient balance")
	case errors.Is(err, withdrawal.ErrInvalidTransition):
		api.Conflict(w, api.ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeConcurrencyConflict, "balance is busy, retry")
	default:
		api.InternalError(w, fallback)
	}
}
