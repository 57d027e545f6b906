package domain

import "time"

// BackendSession pairs the auth token and cookie jar that authorise calls to the order backend
// on behalf of a single browser session.
type BackendSession struct {
	ID        string
	Token     string
	Cookies   string
	BaseURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Authenticated reports whether a login has populated the token.
func (s BackendSession) Authenticated() bool {
	return s.Token != ""
}

// PaymentState enumerates the lifecycle of a payment completion attempt.
type PaymentState string

const (
	// PaymentStateInitiated is the state after the checkout pipeline issued a client token.
	PaymentStateInitiated PaymentState = "initiated"
	// PaymentStateDataSubmitted means payment data has been handed to the backend.
	PaymentStateDataSubmitted PaymentState = "data_submitted"
	// PaymentStateChallengeRequired means the insert asked for a 3-D Secure challenge.
	PaymentStateChallengeRequired PaymentState = "challenge_required"
	// PaymentStateChallengeSubmitted means the payer's challenge response was relayed.
	PaymentStateChallengeSubmitted PaymentState = "challenge_submitted"
	// PaymentStateFinalized means the order was inserted.
	PaymentStateFinalized PaymentState = "finalized"
	// PaymentStateFailed is terminal for the attempt; callers may retry from the UI.
	PaymentStateFailed PaymentState = "failed"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateInitiated:          {PaymentStateDataSubmitted},
	PaymentStateDataSubmitted:      {PaymentStateFinalized, PaymentStateChallengeRequired, PaymentStateFailed},
	PaymentStateChallengeRequired:  {PaymentStateChallengeSubmitted},
	PaymentStateChallengeSubmitted: {PaymentStateFinalized, PaymentStateChallengeRequired, PaymentStateFailed},
}

// CanTransitionTo reports whether next may follow s. Finalized and failed are terminal.
func (s PaymentState) CanTransitionTo(next PaymentState) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s PaymentState) Terminal() bool {
	return s == PaymentStateFinalized || s == PaymentStateFailed
}

// Challenge is the 3-D Secure step-up material handed to the browser.
type Challenge struct {
	PaymentID     string
	PARequestInfo any
	PARequestURL  any
}

// ChallengeResponse is what the browser returns after completing a challenge.
type ChallengeResponse struct {
	PaymentID             string
	PAResponseInformation string
	PAResponseURL         string
}

// Confirmation summarises a finalized order for the confirmation page.
type Confirmation struct {
	OrderNumber   string
	TransactionID string
	RedirectURL   string
	PaymentMethod string
	CompletedAt   time.Time
}

// OrderID is the identifier shown to the payer; the transaction id stands in when the backend
// returned no order number.
func (c Confirmation) OrderID() string {
	if c.OrderNumber != "" {
		return c.OrderNumber
	}
	return c.TransactionID
}

// CheckoutEventType names the payment transitions published for downstream consumers.
type CheckoutEventType string

const (
	CheckoutEventFinalized          CheckoutEventType = "payment.finalized"
	CheckoutEventChallengeRequired  CheckoutEventType = "payment.challenge_required"
	CheckoutEventFailed             CheckoutEventType = "payment.failed"
	CheckoutEventVerificationFailed CheckoutEventType = "payment.verification_failed"
)

// CheckoutEvent records a payment state transition.
type CheckoutEvent struct {
	ID             string
	Type           CheckoutEventType
	SessionID      string
	PaymentID      string
	OrderNumber    string
	TransactionID  string
	State          PaymentState
	BackendStatus  int
	IdempotencyKey string
	OccurredAt     time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
