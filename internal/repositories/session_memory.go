package repositories

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
)

// MemorySessionRepository keeps backend sessions in process memory. Sessions idle for longer than
// the configured TTL are dropped lazily on access.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.BackendSession
	ttl      time.Duration
	now      func() time.Time
}

var _ SessionRepository = (*MemorySessionRepository)(nil)

// MemorySessionOption customises the in-memory repository.
type MemorySessionOption func(*MemorySessionRepository)

// WithMemorySessionTTL expires sessions not updated within ttl. Zero disables expiry.
func WithMemorySessionTTL(ttl time.Duration) MemorySessionOption {
	return func(r *MemorySessionRepository) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// WithMemorySessionClock overrides the clock, primarily for tests.
func WithMemorySessionClock(now func() time.Time) MemorySessionOption {
	return func(r *MemorySessionRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewMemorySessionRepository constructs an empty repository.
func NewMemorySessionRepository(opts ...MemorySessionOption) *MemorySessionRepository {
	repo := &MemorySessionRepository{
		sessions: make(map[string]domain.BackendSession),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (r *MemorySessionRepository) Get(ctx context.Context, id string) (domain.BackendSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BackendSession{}, NewSessionError("session.get", SessionErrorInvalidInput, "session id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.lookupLocked(id)
	if !ok {
		return domain.BackendSession{}, NewSessionError("session.get", SessionErrorNotFound, "session not found", nil)
	}
	return session, nil
}

func (r *MemorySessionRepository) Save(ctx context.Context, session domain.BackendSession) error {
	session.ID = strings.TrimSpace(session.ID)
	if session.ID == "" {
		return NewSessionError("session.save", SessionErrorInvalidInput, "session id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	if existing, ok := r.sessions[session.ID]; ok && session.CreatedAt.IsZero() {
		session.CreatedAt = existing.CreatedAt
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	r.sessions[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) MergeCookies(ctx context.Context, id string, pairs []string) (domain.BackendSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BackendSession{}, NewSessionError("session.merge_cookies", SessionErrorInvalidInput, "session id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	session, ok := r.lookupLocked(id)
	if !ok {
		session = domain.BackendSession{ID: id, CreatedAt: now}
	}
	session.Cookies = backend.MergeCookiePairs(session.Cookies, pairs)
	session.UpdatedAt = now
	r.sessions[id] = session
	return session, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(id))
	return nil
}

// Len reports the number of live sessions.
func (r *MemorySessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id := range r.sessions {
		if _, ok := r.lookupLocked(id); ok {
			count++
		}
	}
	return count
}

func (r *MemorySessionRepository) lookupLocked(id string) (domain.BackendSession, bool) {
	session, ok := r.sessions[id]
	if !ok {
		return domain.BackendSession{}, false
	}
	if r.ttl > 0 && r.now().Sub(session.UpdatedAt) > r.ttl {
		delete(r.sessions, id)
		return domain.BackendSession{}, false
	}
	return session, true
}
