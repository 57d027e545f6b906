package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	pfirestore "github.com/ticketgate/api/internal/platform/firestore"
	"github.com/ticketgate/api/internal/platform/sealing"
	"github.com/ticketgate/api/internal/repositories"
)

const sessionsCollection = "backendSessions"

type sessionDocument struct {
	TokenSealed   string    `firestore:"tokenSealed"`
	CookiesSealed string    `firestore:"cookiesSealed"`
	BaseURL       string    `firestore:"baseUrl,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
	ExpiresAt     time.Time `firestore:"expiresAt"`
}

// SessionRepository implements repositories.SessionRepository on Firestore. Tokens and cookie
// jars are sealed before they leave the process.
type SessionRepository struct {
	provider *pfirestore.Provider
	sessions *pfirestore.Collection[sessionDocument]
	sealer   *sealing.Sealer
	ttl      time.Duration
	now      func() time.Time
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// SessionRepositoryOption customises the repository.
type SessionRepositoryOption func(*SessionRepository)

// WithSessionTTL stamps documents with an expiry used by the collection's TTL policy.
func WithSessionTTL(ttl time.Duration) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSessionClock overrides the clock used for timestamps.
func WithSessionClock(now func() time.Time) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider, sealer *sealing.Sealer, opts ...SessionRepositoryOption) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	if sealer == nil {
		return nil, errors.New("session repository requires sealer")
	}
	repo := &SessionRepository{
		provider: provider,
		sessions: pfirestore.NewCollection[sessionDocument](provider, sessionsCollection),
		sealer:   sealer,
		ttl:      12 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (domain.BackendSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BackendSession{}, repositories.NewSessionError("sessions.get", repositories.SessionErrorInvalidInput, "session id is required", nil)
	}
	doc, err := r.sessions.Get(ctx, id)
	if err != nil {
		return domain.BackendSession{}, translate("sessions.get", err)
	}
	if r.expired(doc.Data) {
		return domain.BackendSession{}, repositories.NewSessionError("sessions.get", repositories.SessionErrorNotFound, "session expired", nil)
	}
	return r.open(id, doc.Data)
}

func (r *SessionRepository) Save(ctx context.Context, session domain.BackendSession) error {
	session.ID = strings.TrimSpace(session.ID)
	if session.ID == "" {
		return repositories.NewSessionError("sessions.save", repositories.SessionErrorInvalidInput, "session id is required", nil)
	}
	now := r.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	doc, err := r.seal(session)
	if err != nil {
		return err
	}
	if err := r.sessions.Set(ctx, session.ID, doc); err != nil {
		return translate("sessions.save", err)
	}
	return nil
}

// MergeCookies reads, merges and writes the jar inside one transaction so concurrent responses
// for the same browser session never drop each other's cookies.
func (r *SessionRepository) MergeCookies(ctx context.Context, id string, pairs []string) (domain.BackendSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BackendSession{}, repositories.NewSessionError("sessions.merge_cookies", repositories.SessionErrorInvalidInput, "session id is required", nil)
	}

	var merged domain.BackendSession
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sessions.Ref(ctx, id)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		current := domain.BackendSession{ID: id, CreatedAt: now}
		doc, err := r.sessions.GetTx(tx, ref)
		switch {
		case pfirestore.IsNotFound(err):
		case err != nil:
			return err
		case !r.expired(doc.Data):
			if current, err = r.open(id, doc.Data); err != nil {
				return err
			}
		}

		current.Cookies = backend.MergeCookiePairs(current.Cookies, pairs)
		current.UpdatedAt = now
		sealed, err := r.seal(current)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, sealed); err != nil {
			return err
		}
		merged = current
		return nil
	}, pfirestore.WithTxOp("sessions.merge_cookies"))
	if err != nil {
		return domain.BackendSession{}, translate("sessions.merge_cookies", err)
	}
	return merged, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if err := r.sessions.Delete(ctx, id); err != nil {
		return translate("sessions.delete", err)
	}
	return nil
}

func (r *SessionRepository) seal(session domain.BackendSession) (sessionDocument, error) {
	token, err := r.sealer.Seal(session.Token)
	if err != nil {
		return sessionDocument{}, fmt.Errorf("seal session token: %w", err)
	}
	cookies, err := r.sealer.Seal(session.Cookies)
	if err != nil {
		return sessionDocument{}, fmt.Errorf("seal session cookies: %w", err)
	}
	return sessionDocument{
		TokenSealed:   token,
		CookiesSealed: cookies,
		BaseURL:       session.BaseURL,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
		ExpiresAt:     session.UpdatedAt.Add(r.ttl),
	}, nil
}

func (r *SessionRepository) open(id string, doc sessionDocument) (domain.BackendSession, error) {
	token, err := r.sealer.Open(doc.TokenSealed)
	if err != nil {
		return domain.BackendSession{}, repositories.NewSessionError("sessions.open", repositories.SessionErrorInvalidInput, "stored token could not be opened", err)
	}
	cookies, err := r.sealer.Open(doc.CookiesSealed)
	if err != nil {
		return domain.BackendSession{}, repositories.NewSessionError("sessions.open", repositories.SessionErrorInvalidInput, "stored cookies could not be opened", err)
	}
	return domain.BackendSession{
		ID:        id,
		Token:     token,
		Cookies:   cookies,
		BaseURL:   doc.BaseURL,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Firestore TTL deletion lags, so expiry is also checked on read.
func (r *SessionRepository) expired(doc sessionDocument) bool {
	return !doc.ExpiresAt.IsZero() && r.now().After(doc.ExpiresAt)
}

func translate(op string, err error) error {
	var sessionErr *repositories.SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr
	}
	if pfirestore.IsNotFound(err) {
		return repositories.NewSessionError(op, repositories.SessionErrorNotFound, "session not found", err)
	}
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) && fsErr.IsUnavailable() {
		return repositories.NewSessionError(op, repositories.SessionErrorUnavailable, "session store unavailable", err)
	}
	return err
}
