package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"affiliatehub/internal/affiliate"
)

func TestAffiliateAdminRoutes(t *testing.T) {
	svc := affiliate.NewService(affiliate.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	routes := NewHandler(svc).AdminRoutes()

	call := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := call(http.MethodPost, "/", `{"user_id":"user-7","affiliate_code":"AFF7","level":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("onboard: %d %s", rec.Code, rec.Body.String())
	}
	if rec := call(http.MethodPost, "/", `{"user_id":"user-8","affiliate_code":"AFF7"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate code: %d", rec.Code)
	}
	if rec := call(http.MethodPost, "/", `{"user_id":"user-9","affiliate_code":"no spaces"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid code: %d", rec.Code)
	}
	for _, rate := range []string{"1.5", "-0.1", "0.12345"} {
		body := `{"user_id":"user-10","affiliate_code":"RATE10","commission_rate":"` + rate + `"}`
		if rec := call(http.MethodPost, "/", body); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("commission_rate %s: %d %s", rate, rec.Code, rec.Body.String())
		}
	}
	if rec := call(http.MethodPost, "/missing/suspend", ""); rec.Code != http.StatusNotFound {
		t.Errorf("suspend missing: %d", rec.Code)
	}
}
