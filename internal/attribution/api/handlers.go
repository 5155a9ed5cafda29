package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"affiliatehub/internal/attribution"
	"affiliatehub/internal/common/api"
	"affiliatehub/internal/common/middleware"
)

const maxTrackBody = 8 << 10

// Handler handles click tracking requests
type Handler struct {
	tracker *attribution.Tracker
}

// NewHandler creates a new tracking handler
func NewHandler(tracker *attribution.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Routes returns the tracking routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Track)
	return r
}

// TrackRequest is the API request for recording a click
type TrackRequest struct {
	AffiliateCode string `json:"affiliate_code"`
	PageURL       string `json:"page_url"`
	Referrer      string `json:"referrer"`
}

// Track handles POST /track. It always answers 202 so tracking
// failures never reach the visitor.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTrackBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		referrer := req.Referrer
		if referrer == "" {
			referrer = r.Referer()
		}
		h.tracker.Track(r.Context(), attribution.TrackRequest{
			AffiliateCode: req.AffiliateCode,
			IPAddress:     middleware.ClientIP(r),
			UserAgent:     r.UserAgent(),
			ReferrerURL:   referrer,
			LandingURL:    req.PageURL,
		})
	}

	api.WriteData(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
