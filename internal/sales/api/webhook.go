package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"affiliatehub/internal/common/api"
	"affiliatehub/internal/common/middleware"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sales"
)

const maxWebhookBody = 1 << 20

// Handler serves provider webhooks and the reconciliation view
type Handler struct {
	registry      *providers.Registry
	service       *sales.Service
	verifyTimeout time.Duration
}

// NewHandler creates a new webhook handler
func NewHandler(registry *providers.Registry, service *sales.Service, verifyTimeout time.Duration) *Handler {
	return &Handler{registry: registry, service: service, verifyTimeout: verifyTimeout}
}

// Routes returns the webhook routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Receive)
	return r
}

// AdminRoutes returns the reconciliation routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stale", h.ListStale)
	return r
}

// Receive handles POST /{provider}. Authentic but unhandled events answer
// 200 so the provider stops retrying; only internal failures answer 500.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	adapter, ok := h.registry.Get(chi.URLParam(r, "provider"))
	if !ok {
		api.NotFound(w, "unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		api.BadRequest(w, "unreadable body")
		return
	}

	raw := &providers.RawRequest{
		Header:     r.Header,
		Query:      r.URL.Query(),
		Body:       body,
		RemoteIP:   middleware.ClientIP(r),
		ReceivedAt: time.Now().UTC(),
	}

	ev, err := providers.Parse(r.Context(), adapter, raw, h.verifyTimeout)
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrAuthentication):
			api.Unauthorized(w, "webhook authentication failed")
		case errors.Is(err, providers.ErrIgnored):
			api.WriteData(w, http.StatusOK, map[string]string{"status": "ignored"})
		case errors.Is(err, providers.ErrValidation):
			api.BadRequest(w, err.Error())
		default:
			api.InternalError(w, "webhook verification failed")
		}
		return
	}

	outcome, err := h.service.Process(r.Context(), ev)
	if err != nil {
		api.InternalError(w, "sale could not be processed")
		return
	}
	api.WriteData(w, http.StatusOK, outcome)
}

// ListStale handles GET /stale
func (h *Handler) ListStale(w http.ResponseWriter, r *http.Request) {
	p := api.GetPaginationParams(r, 100, 500)
	records, err := h.service.ListStale(r.Context(), p.Limit)
	if err != nil {
		api.InternalError(w, "failed to list stale transactions")
		return
	}
	api.WritePaginated(w, records, &api.Pagination{Limit: p.Limit})
}
