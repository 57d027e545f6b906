package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type stubSession struct {
	mu      sync.Mutex
	token   string
	cookies string
	baseURL string
	err     error
}

func (s *stubSession) Token() string   { return s.token }
func (s *stubSession) BaseURL() string { return s.baseURL }

func (s *stubSession) Cookies() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies
}

func (s *stubSession) AbsorbCookies(_ context.Context, pairs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cookies = MergeCookiePairs(s.cookies, pairs)
	return nil
}

func TestClientSendSetsHeadersAndAbsorbsCookies(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/app/WebAPI/v2/order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Add("Set-Cookie", "lb=node-2; Path=/")
		w.Header().Add("Set-Cookie", "av=new; HttpOnly")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Order::order_number":{"standard":"ORD-1"}}}`))
	}))
	defer server.Close()

	sess := &stubSession{token: "tok-1", cookies: "av=old; keep=1"}
	client := NewClient(server.URL)

	resp, err := client.Send(context.Background(), sess, "/app/WebAPI/v2/order", Request{
		Get:        []string{"Order::order_number"},
		ObjectName: "myOrder",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok response, got %d", resp.Status)
	}
	if got := Standard(resp.Data(), "Order::order_number"); got != "ORD-1" {
		t.Fatalf("unexpected order number %q", got)
	}
	if gotHeaders.Get("Session") != "tok-1" {
		t.Fatalf("expected session header, got %q", gotHeaders.Get("Session"))
	}
	if gotHeaders.Get("Cookie") != "av=old; keep=1" {
		t.Fatalf("expected cookie header, got %q", gotHeaders.Get("Cookie"))
	}
	if gotHeaders.Get("Content-Type") != "application/json" || gotHeaders.Get("Accept") != "application/json" {
		t.Fatalf("unexpected content negotiation headers %#v", gotHeaders)
	}
	if gotBody["objectName"] != "myOrder" {
		t.Fatalf("unexpected payload %#v", gotBody)
	}
	if _, ok := gotBody["actions"]; ok {
		t.Fatalf("expected empty actions to be omitted, got %#v", gotBody)
	}
	if sess.Cookies() != "av=new; keep=1; lb=node-2" {
		t.Fatalf("expected cookies merged, got %q", sess.Cookies())
	}
}

func TestClientSendReturnsNon2xxWithoutError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`<html>busy</html>`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Send(context.Background(), &stubSession{}, "/x", Request{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.OK() || resp.Status != http.StatusConflict {
		t.Fatalf("unexpected status %d", resp.Status)
	}
	if resp.Body != "<html>busy</html>" {
		t.Fatalf("expected raw text fallback, got %#v", resp.Body)
	}
	debug := resp.Debug()
	if debug["status"] != http.StatusConflict {
		t.Fatalf("expected debug status, got %#v", debug)
	}
}

func TestClientSendTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url).Send(context.Background(), &stubSession{}, "/x", Request{})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
}

func TestClientSendRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/at-limit":
			_, _ = w.Write([]byte(strings.Repeat("a", 16)))
		default:
			_, _ = w.Write([]byte(strings.Repeat("a", 17)))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxResponseBytes(16))
	resp, err := client.Send(context.Background(), &stubSession{}, "/at-limit", Request{})
	if err != nil {
		t.Fatalf("body at the limit should be accepted: %v", err)
	}
	if got := resp.Text(); got != strings.Repeat("a", 16) {
		t.Fatalf("expected full body, got %q", got)
	}

	if _, err := client.Send(context.Background(), &stubSession{}, "/over-limit", Request{}); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}

func TestClientSendMissingConfiguration(t *testing.T) {
	t.Parallel()

	client := NewClient("")
	if _, err := client.Send(context.Background(), &stubSession{}, "/x", Request{}); !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected missing base url error, got %v", err)
	}
	client = NewClient("https://backend.example")
	if _, err := client.Send(context.Background(), &stubSession{}, " ", Request{}); !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected missing path error, got %v", err)
	}
}

func TestClientSendPrefersSessionBaseURL(t *testing.T) {
	t.Parallel()

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient("http://127.0.0.1:1")
	if _, err := client.Send(context.Background(), &stubSession{baseURL: server.URL + "/"}, "/x", Request{}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected session base url to be used")
	}
}

func TestClientSendWithoutRedirects(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/target", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Send(context.Background(), nil, "/moved", Request{}, WithoutRedirects())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if resp.Status != http.StatusFound {
		t.Fatalf("expected redirect status to surface, got %d", resp.Status)
	}
}

func TestClientSendCookiePersistenceFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sess := &stubSession{err: errors.New("store down")}
	resp, err := NewClient(server.URL).Send(context.Background(), sess, "/x", Request{})
	if err != nil {
		t.Fatalf("expected response despite cookie failure, got %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok response")
	}
}

func TestCredentialsRedactedInDebug(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Send(context.Background(), nil, "/auth", Credentials{UserID: "u", Password: "secret"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	creds, ok := resp.Debug()["request"].(Credentials)
	if !ok || creds.Password == "secret" {
		t.Fatalf("expected redacted credentials, got %#v", resp.Debug()["request"])
	}
}
