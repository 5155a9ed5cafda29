package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"affiliatehub/internal/affiliate"
	"affiliatehub/internal/common/api"
	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/middleware"
)

// Handler handles affiliate administration requests
type Handler struct {
	service *affiliate.Service
}

// NewHandler creates a new affiliate handler
func NewHandler(service *affiliate.Service) *Handler {
	return &Handler{service: service}
}

// AdminRoutes returns the affiliate admin routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Onboard)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/suspend", h.Suspend)

	return r
}

// Onboard handles POST /
func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req affiliate.OnboardRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	a, err := h.service.Onboard(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, affiliate.ErrCodeTaken):
			api.Conflict(w, api.ErrCodeConflict, "affiliate code already taken")
		case errors.Is(err, affiliate.ErrInvalidCode), errors.Is(err, affiliate.ErrInvalidRate):
			api.ValidationError(w, err)
		default:
			api.InternalError(w, "failed to onboard affiliate")
		}
		return
	}
	api.WriteData(w, http.StatusCreated, a)
}

// Get handles GET /{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "affiliate not found")
			return
		}
		api.InternalError(w, "failed to get affiliate")
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

// Suspend handles POST /{id}/suspend
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Suspend(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "affiliate not found")
			return
		}
		api.InternalError(w, "failed to suspend affiliate")
		return
	}
	api.WriteData(w, http.StatusOK, a)
}
