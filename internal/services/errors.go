package services

import (
	"errors"
	"fmt"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
)

var (
	// ErrNotAuthenticated indicates the browser session has no backend login.
	ErrNotAuthenticated = errors.New("services: not authenticated")
	// ErrMissingConfiguration indicates a backend path or credential is not configured.
	ErrMissingConfiguration = errors.New("services: missing configuration")
	// ErrValidation indicates the caller supplied invalid or incomplete input.
	ErrValidation = errors.New("services: invalid input")
	// ErrNotFound indicates the backend answered but did not return the requested object.
	ErrNotFound = errors.New("services: not found")
	// ErrBackendCallFailed indicates the backend answered with a non-2xx status.
	ErrBackendCallFailed = errors.New("services: backend call failed")
	// ErrStepUpRequired indicates the order insert needs a 3-D Secure challenge.
	ErrStepUpRequired = errors.New("services: step-up challenge required")
	// ErrVerificationFailed indicates the backend did not echo external payment data verbatim.
	ErrVerificationFailed = errors.New("services: external payment data verification failed")
	// ErrNoPaymentIDAllocated indicates addPayment returned no payment record.
	ErrNoPaymentIDAllocated = errors.New("services: no payment id allocated")
)

// Error is a failure with a client-facing message and extra payload fields. Kind is one of the
// package sentinels and is what errors.Is matches against.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func validationError(message string, details map[string]any) error {
	return &Error{Kind: ErrValidation, Message: message, Details: details}
}

func notFoundError(message string, details map[string]any) error {
	return &Error{Kind: ErrNotFound, Message: message, Details: details}
}

// StepError reports a backend call that answered with a non-2xx status. Step names the call and
// Message is the text shown to the browser; Response carries the raw exchange for debugging.
type StepError struct {
	Step     string
	Message  string
	Response *backend.Response
	Details  map[string]any
	Err      error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	status := 0
	if e.Response != nil {
		status = e.Response.Status
	}
	return fmt.Sprintf("%s failed with status %d: %v", e.Step, status, e.unwrap())
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.unwrap()
}

func (e *StepError) unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrBackendCallFailed
}

// Status is the backend status to relay, or 500 when there is none.
func (e *StepError) Status() int {
	if e == nil || e.Response == nil || e.Response.Status == 0 {
		return 500
	}
	return e.Response.Status
}

func stepFailed(step, message string, resp *backend.Response) *StepError {
	return &StepError{Step: step, Message: message, Response: resp}
}

// ChallengeRequiredError is returned when finalizing needs the payer to complete a 3-D Secure
// challenge first.
type ChallengeRequiredError struct {
	Challenge domain.Challenge
	// Response is the pa_request lookup, or the insert response when the lookup failed.
	Response *backend.Response
	Insert   *backend.Response
}

func (e *ChallengeRequiredError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: payment %s", ErrStepUpRequired, e.Challenge.PaymentID)
}

func (e *ChallengeRequiredError) Unwrap() error { return ErrStepUpRequired }

// VerificationError reports external payment data that the backend did not store verbatim.
type VerificationError struct {
	PaymentID string
	Expected  string
	Actual    any
	Payments  map[string]any
	Response  *backend.Response
}

func (e *VerificationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: payment %s", ErrVerificationFailed, e.PaymentID)
}

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }

// translateBackendError maps backend package sentinels onto service sentinels while keeping
// the underlying chain for errors.Is.
func translateBackendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrMissingConfiguration) {
		return fmt.Errorf("%w: %w", ErrMissingConfiguration, err)
	}
	return err
}
