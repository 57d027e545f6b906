package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/repositories"
)

var testEndpoints = Endpoints{
	Auth:          "/session",
	Upcoming:      "/search",
	Map:           "/map",
	Performance:   "/performance",
	Order:         "/order",
	Customer:      "/customer",
	PaymentMethod: "/paymentmethod",
	User:          "/user",
}

const testSessionID = "browser-1"

// backendCall is one request observed by the fake backend.
type backendCall struct {
	Path    string
	Label   string
	Request backend.Request
	Raw     map[string]any
	Session string
	Cookie  string
}

// backendReply is what the fake answers; Body is JSON encoded unless it is a string.
type backendReply struct {
	Status    int
	Body      any
	SetCookie []string
}

type fakeBackend struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []backendCall
	reply  func(call backendCall, seen int) backendReply
	server *httptest.Server
}

// newFakeBackend starts a backend whose answers come from reply. seen counts earlier calls
// with the same label.
func newFakeBackend(t *testing.T, reply func(call backendCall, seen int) backendReply) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{t: t, reply: reply}
	fb.server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req backend.Request
	_ = json.Unmarshal(raw, &req)
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)

	call := backendCall{
		Path:    r.URL.Path,
		Label:   callLabel(req),
		Request: req,
		Raw:     generic,
		Session: r.Header.Get("Session"),
		Cookie:  r.Header.Get("Cookie"),
	}
	fb.mu.Lock()
	seen := 0
	for _, prior := range fb.calls {
		if prior.Label == call.Label {
			seen++
		}
	}
	fb.calls = append(fb.calls, call)
	fb.mu.Unlock()

	reply := backendReply{Status: http.StatusOK, Body: map[string]any{"data": map[string]any{}}}
	if fb.reply != nil {
		reply = fb.reply(call, seen)
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	for _, cookie := range reply.SetCookie {
		w.Header().Add("Set-Cookie", cookie)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	switch body := reply.Body.(type) {
	case string:
		_, _ = io.WriteString(w, body)
	default:
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (fb *fakeBackend) client() *backend.Client {
	return backend.NewClient(fb.server.URL, backend.WithTimeout(5*time.Second))
}

func (fb *fakeBackend) count(label string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, call := range fb.calls {
		if call.Label == label {
			n++
		}
	}
	return n
}

func (fb *fakeBackend) labels() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]string, 0, len(fb.calls))
	for _, call := range fb.calls {
		out = append(out, call.Label)
	}
	return out
}

func (fb *fakeBackend) last(label string) (backendCall, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.calls) - 1; i >= 0; i-- {
		if fb.calls[i].Label == label {
			return fb.calls[i], true
		}
	}
	return backendCall{}, false
}

// callLabel names a call by its first action, or "set"/"get"/"login"/"session" otherwise.
func callLabel(req backend.Request) string {
	switch {
	case len(req.Actions) > 0:
		return req.Actions[0].Method
	case len(req.Set) > 0:
		return "set"
	case req.Session != nil:
		return "session"
	case len(req.Get) > 0:
		return "get"
	default:
		return "login"
	}
}

func loggedInSessions(t *testing.T) *repositories.MemorySessionRepository {
	t.Helper()
	repo := repositories.NewMemorySessionRepository()
	err := repo.Save(context.Background(), domain.BackendSession{
		ID:      testSessionID,
		Token:   "tok-1",
		Cookies: "session=tok-1; lb=node-1",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return repo
}

func field(value any) map[string]any {
	return map[string]any{"standard": value, "display": value, "input": value}
}

func dataBody(data map[string]any) map[string]any {
	return map[string]any{"data": data}
}

func paymentsData(id string, attrs map[string]any) map[string]any {
	record := map[string]any{"payment_id": field(id)}
	for key, value := range attrs {
		record[key] = value
	}
	return map[string]any{id: record, "state": map[string]any{}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []CheckoutEvent
	err    error
}

func (p *recordingPublisher) PublishCheckoutEvent(_ context.Context, event CheckoutEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-" + event.ID, p.err
}

func (p *recordingPublisher) types() []domain.CheckoutEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.CheckoutEventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}
