package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// loginThrottle caps login attempts per client address within a fixed window. Each attempt
// costs a round trip to the backend authenticator, so bursts are refused locally.
type loginThrottle struct {
	limit   int
	window  time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	windows map[string]throttleWindow
}

type throttleWindow struct {
	attempts int
	resetAt  time.Time
}

func newLoginThrottle(limit int, window time.Duration, clock func() time.Time) *loginThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &loginThrottle{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]throttleWindow),
	}
}

// allow records an attempt for client and reports whether it may proceed. When refused, the
// returned duration is the time left in the current window.
func (t *loginThrottle) allow(client string) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "unknown"
	}
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.windows[client]
	if !ok || !now.Before(current.resetAt) {
		t.windows[client] = throttleWindow{attempts: 1, resetAt: now.Add(t.window)}
		t.evictLocked(now)
		return true, 0
	}
	if current.attempts >= t.limit {
		return false, current.resetAt.Sub(now)
	}
	current.attempts++
	t.windows[client] = current
	return true, 0
}

func (t *loginThrottle) evictLocked(now time.Time) {
	for client, w := range t.windows {
		if !now.Before(w.resetAt) {
			delete(t.windows, client)
		}
	}
}

// clientAddress is the remote host after chi's RealIP middleware has rewritten RemoteAddr.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
