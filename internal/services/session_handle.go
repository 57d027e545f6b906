package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/repositories"
)

// sessionHandle is the per-request view of one browser session's backend credentials. Cookie
// merges are written through to the repository so concurrent requests of the same browser see
// each other's cookies.
type sessionHandle struct {
	repo repositories.SessionRepository

	mu    sync.RWMutex
	state domain.BackendSession
}

var _ backend.Session = (*sessionHandle)(nil)

func (h *sessionHandle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.ID
}

func (h *sessionHandle) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Token
}

func (h *sessionHandle) Cookies() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Cookies
}

func (h *sessionHandle) BaseURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.BaseURL
}

// AbsorbCookies merges Set-Cookie pairs into the stored jar.
func (h *sessionHandle) AbsorbCookies(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return nil
	}
	updated, err := h.repo.MergeCookies(ctx, h.ID(), pairs)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.state.Cookies = updated.Cookies
	h.state.UpdatedAt = updated.UpdatedAt
	h.mu.Unlock()
	return nil
}

// SetSession replaces token, cookie jar and base URL.
func (h *sessionHandle) SetSession(ctx context.Context, token, cookies, baseURL string) error {
	h.mu.Lock()
	next := h.state
	next.Token = token
	next.Cookies = backend.CookieHeader(cookies)
	next.BaseURL = baseURL
	h.mu.Unlock()

	if err := h.repo.Save(ctx, next); err != nil {
		return err
	}
	h.mu.Lock()
	h.state = next
	h.mu.Unlock()
	return nil
}

// Clear forgets the backend session.
func (h *sessionHandle) Clear(ctx context.Context) error {
	if err := h.repo.Delete(ctx, h.ID()); err != nil {
		return err
	}
	h.mu.Lock()
	h.state = domain.BackendSession{ID: h.state.ID}
	h.mu.Unlock()
	return nil
}

// sessionStore opens handles over a SessionRepository.
type sessionStore struct {
	repo repositories.SessionRepository
}

// open returns the handle for id. A session that was never stored yields an empty handle.
func (s sessionStore) open(ctx context.Context, id string) (*sessionHandle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotAuthenticated
	}
	state, err := s.repo.Get(ctx, id)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return nil, err
		}
		state = domain.BackendSession{ID: id}
	}
	return &sessionHandle{repo: s.repo, state: state}, nil
}

// authenticated returns the handle for id, failing with ErrNotAuthenticated before login.
func (s sessionStore) authenticated(ctx context.Context, id string) (*sessionHandle, error) {
	handle, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if handle.Token() == "" {
		return nil, ErrNotAuthenticated
	}
	return handle, nil
}

func isNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}
