package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ticketgate/api/internal/platform/requestctx"
)

func TestRequestLoggerMiddlewareLogsSessionAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	handler := InjectLoggerMiddleware(logger)(
		withSession("01HZXABCDEFGHJKMNPQRSTVWXY")(
			RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})),
		),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion log, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status field %#v", fields["status"])
	}
	if fields["session_id"] != "01HZXABCDEFGHJKM" {
		t.Fatalf("expected truncated session id, got %#v", fields["session_id"])
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 4xx, got %s", completed[0].Level)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_server_error" {
		t.Fatalf("unexpected body %#v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware([]string{"https://checkoutshopper-test.adyen.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src 'self' https://checkoutshopper-test.adyen.com") {
		t.Fatalf("expected gateway origin in frame-src, got %q", csp)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing hardening headers: %v", rec.Header())
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	logEvent := EventLogger(zap.New(fallbackCore), "payments")
	logEvent(context.Background(), "payment_finalized", map[string]any{"order": "ORD-1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	logEvent(ctx, "finalize_failed", map[string]any{"status": 500})

	if fallbackLogs.Len() != 1 || requestLogs.Len() != 1 {
		t.Fatalf("expected one log per sink, got %d/%d", fallbackLogs.Len(), requestLogs.Len())
	}
	entry := requestLogs.All()[0]
	if entry.Level != zapcore.WarnLevel || entry.LoggerName != "payments" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func withSession(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), id)))
		})
	}
}
