package repositories

import (
	"context"

	domain "github.com/ticketgate/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SessionRepository stores backend sessions keyed by browser session id.
type SessionRepository interface {
	// Get returns the stored session or a RepositoryError reporting IsNotFound.
	Get(ctx context.Context, id string) (domain.BackendSession, error)
	// Save replaces the stored session.
	Save(ctx context.Context, session domain.BackendSession) error
	// MergeCookies folds Set-Cookie pairs into the stored jar atomically and returns the result.
	// A missing session is created with an empty token.
	MergeCookies(ctx context.Context, id string, pairs []string) (domain.BackendSession, error)
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

// HealthRepository exposes dependency health information for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
