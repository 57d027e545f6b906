package services

import (
	"context"
	"time"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	BackendSession     = domain.BackendSession
	Challenge          = domain.Challenge
	Confirmation       = domain.Confirmation
	CheckoutEvent      = domain.CheckoutEvent
	PaymentState       = domain.PaymentState
	SystemHealthReport = domain.SystemHealthReport
)

// BackendClient posts envelopes to the order backend on behalf of a session.
type BackendClient interface {
	Send(ctx context.Context, sess backend.Session, path string, payload any, opts ...backend.CallOption) (*backend.Response, error)
}

// CheckoutEventPublisher hands payment transitions to downstream consumers.
type CheckoutEventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) (string, error)
}

// Endpoints are the backend paths, relative to the backend base URL.
type Endpoints struct {
	Auth          string
	Upcoming      string
	Map           string
	Performance   string
	Order         string
	Customer      string
	PaymentMethod string
	User          string
}

// SessionService manages the backend login bound to each browser session.
type SessionService interface {
	Login(ctx context.Context, cmd LoginCommand) (LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (SessionStatus, error)
}

// CatalogService proxies read and seat-selection operations against the backend.
type CatalogService interface {
	UpcomingEvents(ctx context.Context, cmd UpcomingEventsCommand) (UpcomingEvents, error)
	Performance(ctx context.Context, sessionID, performanceID string) (map[string]any, error)
	Pricing(ctx context.Context, sessionID, performanceID string) (any, error)
	BestAvailable(ctx context.Context, cmd BestAvailableCommand) (any, error)
	RemoveSeat(ctx context.Context, sessionID, admissionID string) (any, error)
	Order(ctx context.Context, sessionID string) (OrderSnapshot, error)
	PaymentDetails(ctx context.Context, sessionID string) (PaymentSnapshot, error)
	AccountDetails(ctx context.Context, sessionID string) (any, error)
}

// CheckoutService runs the order mutation pipeline up to the client payment token.
type CheckoutService interface {
	StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutResult, error)
}

// PaymentService drives payment completion, including the 3-D Secure challenge sub-flow.
type PaymentService interface {
	CompleteTransaction(ctx context.Context, cmd CompleteTransactionCommand) (TransactionResult, error)
	CompleteExternalPayment(ctx context.Context, cmd ExternalPaymentCommand) (ExternalPaymentResult, error)
	SubmitChallengeResponse(ctx context.Context, cmd ChallengeResponseCommand) (ChallengeResult, error)
	PaymentMethodType(ctx context.Context, sessionID, paymentID string) (PaymentMethodTypeResult, error)
	GatewayConfig(ctx context.Context, sessionID, paymentID string) (GatewayConfigResult, error)
	ClientConfig(ctx context.Context, cmd ClientConfigCommand) (ClientConfigResult, error)
}

// SystemService exposes health information for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// LoginCommand authenticates SessionID against the backend. Empty credentials fall back to the
// configured service account. PreviousSessionID, when set, is discarded after a successful login.
type LoginCommand struct {
	SessionID         string
	PreviousSessionID string
	UserID            string
	Password          string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Token    string
	Version  any
	Response *backend.Response
}

// SessionStatus summarises the backend session without exposing credentials.
type SessionStatus struct {
	Authenticated bool
	CookieNames   []string
	UpdatedAt     time.Time
}

// UpcomingEventsCommand pages through the performance search. MovePage 1 moves forward, -1
// back, anything else runs a fresh search.
type UpcomingEventsCommand struct {
	SessionID string
	MovePage  int
}

// UpcomingEvents is one page of search results.
type UpcomingEvents struct {
	Events       []any
	TotalRecords string
	CurrentPage  string
	TotalPages   string
}

// BestAvailableCommand asks the backend to hold the best available seats.
type BestAvailableCommand struct {
	SessionID     string
	PerformanceID string
	PriceTypeID   string
	NumSeats      string
}

// OrderSnapshot is the current order and its admissions.
type OrderSnapshot struct {
	Order      any
	Admissions any
	Raw        any
}

// PaymentSnapshot is the payment records of the current order.
type PaymentSnapshot struct {
	Payments any
	Raw      any
}

// StartCheckoutCommand configures the current order for payment. Empty CustomerNumber and
// CardholderName fall back to configured defaults.
type StartCheckoutCommand struct {
	SessionID        string
	DeliveryMethodID string
	PaymentMethodID  string
	CustomerNumber   string
	CardholderName   string
}

// CheckoutResult carries the payment record the browser mounts its payment form against.
type CheckoutResult struct {
	PaymentID      string
	PaymentDetails any
	ReusedPayment  bool
	State          PaymentState
}

// CompleteTransactionCommand finalizes an order whose payment data was captured by hosted fields.
type CompleteTransactionCommand struct {
	SessionID      string
	PaymentID      string
	PaymentMethod  string
	IdempotencyKey string
}

// TransactionResult describes a finalized order.
type TransactionResult struct {
	PaymentID    string
	State        PaymentState
	Confirmation Confirmation
	Payments     map[string]any
	Response     *backend.Response
}

// ExternalPaymentCommand stores a gateway state blob on the payment record and finalizes.
type ExternalPaymentCommand struct {
	SessionID      string
	PaymentID      string
	ExternalData   string
	IdempotencyKey string
}

// ExternalPaymentResult adds the verified echo to a finalized transaction.
type ExternalPaymentResult struct {
	TransactionResult
	Expected string
	Actual   any
}

// ChallengeResponseCommand relays the payer's 3-D Secure result. Query, when set, is a raw
// redirect query string that is encoded into PAResponseInformation.
type ChallengeResponseCommand struct {
	SessionID             string
	PaymentID             string
	PAResponseInformation string
	PAResponseURL         string
	Query                 string
	IdempotencyKey        string
}

// ChallengeResult is a transaction finalized after a challenge.
type ChallengeResult struct {
	TransactionResult
	SetResponse *backend.Response
}

// PaymentMethodTypeResult is the payment method type of a payment record.
type PaymentMethodTypeResult struct {
	PaymentID string
	Type      any
	Response  *backend.Response
}

// GatewayConfigResult is the gateway configuration of a payment record. PaymentMethods is set
// when the configuration parsed; otherwise Warning or ParseError explains why not.
type GatewayConfigResult struct {
	PaymentID      string
	GatewayConfig  map[string]any
	PaymentMethods any
	Warning        string
	ParseError     string
	Response       *backend.Response
}

// ClientConfigCommand asks for the drop-in configuration of a payment method.
type ClientConfigCommand struct {
	SessionID       string
	PaymentMethodID string
}

// ClientConfigResult is the browser gateway configuration. The annotations record why the
// fallback was used, if it was.
type ClientConfigResult struct {
	Config      payments.ClientConfig
	APIError    any
	APIResponse any
	Error       string
}
