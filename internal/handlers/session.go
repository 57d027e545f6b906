package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/services"
)

// SessionRotator issues a fresh browser session id and cookie.
type SessionRotator interface {
	Rotate(ctx context.Context, w http.ResponseWriter) (string, error)
}

// SessionHandlers exposes login, logout and session status.
type SessionHandlers struct {
	sessions services.SessionService
	rotator  SessionRotator
	throttle *loginThrottle
}

// SessionOption customises SessionHandlers.
type SessionOption func(*SessionHandlers)

// WithSessionRotator rotates the browser session id on login.
func WithSessionRotator(rotator SessionRotator) SessionOption {
	return func(h *SessionHandlers) {
		h.rotator = rotator
	}
}

// WithLoginRateLimit caps login attempts per client address.
func WithLoginRateLimit(limit int, window time.Duration, clock func() time.Time) SessionOption {
	return func(h *SessionHandlers) {
		h.throttle = newLoginThrottle(limit, window, clock)
	}
}

// NewSessionHandlers constructs the session handlers.
func NewSessionHandlers(svc services.SessionService, opts ...SessionOption) *SessionHandlers {
	h := &SessionHandlers{sessions: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/session", h.status)
}

type loginRequest struct {
	UserID   string `json:"userid"`
	Password string `json:"password"`
}

type loginResponse struct {
	Session string `json:"session"`
	Version any    `json:"version"`
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if ok, retry := h.throttle.allow(clientAddress(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "Too many login attempts", http.StatusTooManyRequests))
		return
	}

	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}

	previous := sessionID(r)
	current := previous
	if h.rotator != nil {
		rotated, err := h.rotator.Rotate(ctx, w)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		current = rotated
	}

	cmd := services.LoginCommand{
		SessionID: current,
		UserID:    body.UserID,
		Password:  body.Password,
	}
	if previous != current {
		cmd.PreviousSessionID = previous
	}
	result, err := h.sessions.Login(ctx, cmd)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{Session: current, Version: result.Version})
}

func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), sessionID(r)); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sessionStatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	CookieNames   []string `json:"cookieNames"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

func (h *SessionHandlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Status(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	resp := sessionStatusResponse{
		Authenticated: status.Authenticated,
		CookieNames:   status.CookieNames,
	}
	if resp.CookieNames == nil {
		resp.CookieNames = []string{}
	}
	if !status.UpdatedAt.IsZero() {
		resp.UpdatedAt = status.UpdatedAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
