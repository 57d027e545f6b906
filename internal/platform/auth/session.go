package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/platform/requestctx"
)

const (
	defaultCookieName = "tg_session"
	defaultSessionTTL = 12 * time.Hour
	sessionIssuer     = "ticketgate"
	minSecretLength   = 32

	// SharedSessionID is the id every request maps to in shared mode.
	SharedSessionID = "shared"
)

var (
	// ErrSessionInvalid signals a cookie that failed signature or claim validation.
	ErrSessionInvalid = errors.New("auth: session cookie invalid")
	// ErrSecretTooShort is returned when the signing secret cannot protect HS256 tokens.
	ErrSecretTooShort = errors.New("auth: signing secret must be at least 32 bytes")
)

// Sessions issues and verifies the signed browser session cookie that keys backend sessions.
// In shared mode every request resolves to SharedSessionID and no cookie is written.
type Sessions struct {
	secret     []byte
	cookieName string
	secure     bool
	ttl        time.Duration
	shared     bool
	now        func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	issued   metric.Int64Counter
	rejected metric.Int64Counter
}

// Option customises Sessions.
type Option func(*Sessions)

// WithCookieName overrides the cookie name.
func WithCookieName(name string) Option {
	return func(s *Sessions) {
		if name = strings.TrimSpace(name); name != "" {
			s.cookieName = name
		}
	}
}

// WithSecureCookie toggles the Secure cookie attribute.
func WithSecureCookie(secure bool) Option {
	return func(s *Sessions) { s.secure = secure }
}

// WithTTL sets how long an issued cookie stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSharedMode pins every request to one process-wide session.
func WithSharedMode() Option {
	return func(s *Sessions) { s.shared = true }
}

// WithClock overrides the clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMeter records issued and rejected sessions on the supplied meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *Sessions) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("auth.session.issued"); err == nil {
			s.issued = counter
		}
		if counter, err := meter.Int64Counter("auth.session.rejected"); err == nil {
			s.rejected = counter
		}
	}
}

// NewSessions constructs the cookie issuer. The secret is only required outside shared mode.
func NewSessions(secret string, opts ...Option) (*Sessions, error) {
	s := &Sessions{
		secret:     []byte(secret),
		cookieName: defaultCookieName,
		secure:     true,
		ttl:        defaultSessionTTL,
		now:        time.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	WithMeter(otel.Meter("github.com/ticketgate/api/internal/platform/auth"))(s)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if !s.shared && len(s.secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	return s, nil
}

// Shared reports whether every request shares one session.
func (s *Sessions) Shared() bool { return s.shared }

// Issue mints a new session id and its signed token.
func (s *Sessions) Issue() (id string, token string, err error) {
	now := s.now().UTC()
	s.entropyMu.Lock()
	generated, err := ulid.New(ulid.Timestamp(now), s.entropy)
	s.entropyMu.Unlock()
	if err != nil {
		return "", "", fmt.Errorf("auth: generate session id: %w", err)
	}
	id = generated.String()

	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: sign session: %w", err)
	}
	return id, token, nil
}

// Verify validates token and returns the session id it carries.
func (s *Sessions) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if !claims.VerifyExpiresAt(s.now(), true) {
		return "", fmt.Errorf("%w: expired", ErrSessionInvalid)
	}
	if claims.Issuer != sessionIssuer {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrSessionInvalid, claims.Issuer)
	}
	if _, err := ulid.ParseStrict(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: malformed subject", ErrSessionInvalid)
	}
	return claims.Subject, nil
}

// Middleware resolves the browser session for each request, issuing a fresh cookie when the
// request carries none or an invalid one, and stores the id on the request context.
func (s *Sessions) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.shared {
				next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), SharedSessionID)))
				return
			}

			ctx := r.Context()
			if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
				id, err := s.Verify(cookie.Value)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(ctx, id)))
					return
				}
				s.count(ctx, s.rejected, "invalid")
			}

			id, err := s.Rotate(ctx, w)
			if err != nil {
				requestctx.Logger(ctx).Error("session issue failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session unavailable", http.StatusInternalServerError))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(ctx, id)))
		})
	}
}

// Rotate issues a new session id and writes its cookie. Called on login so a session id known
// before authentication never carries an authenticated backend session. Shared mode keeps the
// fixed id.
func (s *Sessions) Rotate(ctx context.Context, w http.ResponseWriter) (string, error) {
	if s.shared {
		return SharedSessionID, nil
	}
	id, token, err := s.Issue()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	s.count(ctx, s.issued, "new")
	return id, nil
}

func (s *Sessions) count(ctx context.Context, counter metric.Int64Counter, reason string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
