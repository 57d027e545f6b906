package repositories

import (
	"errors"
	"fmt"
)

// SessionErrorCode enumerates failure reasons for session storage.
type SessionErrorCode string

const (
	// SessionErrorNotFound indicates no session is stored under the id.
	SessionErrorNotFound SessionErrorCode = "session_not_found"
	// SessionErrorInvalidInput indicates the caller supplied an empty id or malformed data.
	SessionErrorInvalidInput SessionErrorCode = "session_invalid_input"
	// SessionErrorUnavailable indicates the store could not be reached.
	SessionErrorUnavailable SessionErrorCode = "session_unavailable"
)

// SessionError is the RepositoryError returned by in-process session stores.
type SessionError struct {
	Op      string
	Code    SessionErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*SessionError)(nil)

// NewSessionError constructs a typed session error.
func NewSessionError(op string, code SessionErrorCode, message string, err error) *SessionError {
	if message == "" {
		message = string(code)
	}
	return &SessionError{Op: op, Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *SessionError) IsNotFound() bool    { return e != nil && e.Code == SessionErrorNotFound }
func (e *SessionError) IsConflict() bool    { return false }
func (e *SessionError) IsUnavailable() bool { return e != nil && e.Code == SessionErrorUnavailable }

// IsNotFound reports whether err is a RepositoryError for a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	if !errors.As(err, &repoErr) {
		return false
	}
	return repoErr.IsNotFound()
}
