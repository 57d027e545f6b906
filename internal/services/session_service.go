package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/repositories"
)

// SessionServiceDeps bundles collaborators for the session service.
type SessionServiceDeps struct {
	Sessions  repositories.SessionRepository
	Backend   BackendClient
	Endpoints Endpoints
	// UserID and Password are the service account used when a login names no credentials.
	UserID   string
	Password string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type sessionService struct {
	store    sessionStore
	call     caller
	authPath string
	userID   string
	password string
	logger   eventLogger
}

var _ SessionService = (*sessionService)(nil)

// NewSessionService constructs the session service.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session service: session repository is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("session service: backend client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := eventLogger(deps.Logger)
	if logger == nil {
		logger = noopLogger
	}
	return &sessionService{
		store:    sessionStore{repo: deps.Sessions},
		call:     caller{client: deps.Backend, logger: logger, now: clock},
		authPath: deps.Endpoints.Auth,
		userID:   strings.TrimSpace(deps.UserID),
		password: deps.Password,
		logger:   logger,
	}, nil
}

func (s *sessionService) Login(ctx context.Context, cmd LoginCommand) (LoginResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	password := cmd.Password
	if userID == "" {
		userID, password = s.userID, s.password
	}
	if userID == "" || password == "" {
		return LoginResult{}, ErrMissingConfiguration
	}

	handle, err := s.store.open(ctx, cmd.SessionID)
	if err != nil {
		return LoginResult{}, err
	}

	// The login call carries no prior credentials; the resulting cookies are saved below.
	resp, err := s.call.send(ctx, nil, "authenticate", s.authPath, backend.Credentials{UserID: userID, Password: password})
	if err != nil {
		return LoginResult{}, err
	}
	body, _ := resp.Object()
	token := backend.Text(body["session"])
	if !resp.OK() || token == "" {
		return LoginResult{}, stepFailed("authenticate", "Auth failed", resp)
	}

	cookies := backend.MergeCookiePairs("", backend.ParseSetCookie(backend.SetCookieHeader(resp.Header)))
	if cookies == "" {
		cookies = "session=" + token
	}
	if err := handle.SetSession(ctx, token, cookies, ""); err != nil {
		return LoginResult{}, err
	}

	if previous := strings.TrimSpace(cmd.PreviousSessionID); previous != "" && previous != handle.ID() {
		if err := s.store.repo.Delete(ctx, previous); err != nil {
			s.logger(ctx, "session_cleanup_failed", map[string]any{"error": err.Error()})
		}
	}

	s.logger(ctx, "session_login", map[string]any{"cookieCount": len(strings.Split(cookies, ";"))})
	return LoginResult{Token: token, Version: body["version"], Response: resp}, nil
}

func (s *sessionService) Logout(ctx context.Context, sessionID string) error {
	handle, err := s.store.open(ctx, sessionID)
	if err != nil {
		return err
	}
	return handle.Clear(ctx)
}

func (s *sessionService) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	handle, err := s.store.open(ctx, sessionID)
	if err != nil {
		if isNotAuthenticated(err) {
			return SessionStatus{}, nil
		}
		return SessionStatus{}, err
	}
	handle.mu.RLock()
	state := handle.state
	handle.mu.RUnlock()

	return SessionStatus{
		Authenticated: state.Authenticated(),
		CookieNames:   cookieNames(state.Cookies),
		UpdatedAt:     state.UpdatedAt,
	}, nil
}

func cookieNames(jar string) []string {
	var names []string
	for _, pair := range strings.Split(backend.CookieHeader(jar), ";") {
		name, _, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
