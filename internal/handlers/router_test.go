package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/platform/requestctx"
	"github.com/ticketgate/api/internal/services"
)

func markerMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Marker", header)
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), "s-"+header)))
		})
	}
}

func echoSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Session", requestctx.SessionID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func TestNewRouterMounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			GeneratedAt: now,
			Checks:      map[string]domain.SystemHealthCheck{"backend": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(
		WithHealthHandlers(health),
		WithSessionMiddlewares(markerMiddleware("session")),
		WithIdempotency(markerMiddleware("idem")),
		WithCatalogRoutes(func(r chi.Router) { r.Get("/order", echoSession) }),
		WithCompletionRoutes(func(r chi.Router) { r.Post("/transaction", echoSession) }),
	)

	cases := []struct {
		name        string
		method      string
		path        string
		wantStatus  int
		wantMarkers []string
	}{
		{name: "probe skips session", method: http.MethodGet, path: "/readyz", wantStatus: http.StatusOK},
		{name: "read route", method: http.MethodGet, path: "/order", wantStatus: http.StatusNoContent, wantMarkers: []string{"session"}},
		{name: "mutation route", method: http.MethodPost, path: "/transaction", wantStatus: http.StatusNoContent, wantMarkers: []string{"session", "idem"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			markers := rr.Header().Values("X-Marker")
			if len(markers) != len(tc.wantMarkers) {
				t.Fatalf("expected markers %v, got %v", tc.wantMarkers, markers)
			}
			for i := range markers {
				if markers[i] != tc.wantMarkers[i] {
					t.Fatalf("expected markers %v, got %v", tc.wantMarkers, markers)
				}
			}
		})
	}
}

func TestNewRouterErrorEnvelopes(t *testing.T) {
	router := NewRouter(WithCatalogRoutes(func(r chi.Router) { r.Get("/order", echoSession) }))

	cases := []struct {
		method   string
		path     string
		status   int
		wantCode string
	}{
		{method: http.MethodGet, path: "/unknown", status: http.StatusNotFound, wantCode: errorNotFoundCode},
		{method: http.MethodDelete, path: "/order", status: http.StatusMethodNotAllowed, wantCode: "method_not_allowed"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["code"] != tc.wantCode {
			t.Fatalf("%s %s: unexpected code %v", tc.method, tc.path, body["code"])
		}
		if body["request_id"] == nil {
			t.Fatalf("expected request id in error envelope")
		}
	}
}
