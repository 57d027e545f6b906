package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/repositories"
)

const swipeIndicatorInternet = "Internet"

// CheckoutDefaults are the configured stand-ins for values a request may omit.
type CheckoutDefaults struct {
	CustomerNumber   string
	CardholderName   string
	DeliveryMethodID string
	// PAResponseURL is where the gateway returns the browser after a challenge.
	PAResponseURL  string
	SwipeIndicator bool
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Sessions  repositories.SessionRepository
	Backend   BackendClient
	Endpoints Endpoints
	Defaults  CheckoutDefaults
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	store     sessionStore
	call      caller
	orderPath string
	defaults  CheckoutDefaults
	logger    eventLogger
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session repository is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("checkout service: backend client is required")
	}
	if strings.TrimSpace(deps.Defaults.PAResponseURL) == "" {
		return nil, errors.New("checkout service: pa response url is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := eventLogger(deps.Logger)
	if logger == nil {
		logger = noopLogger
	}

	return &checkoutService{
		store:     sessionStore{repo: deps.Sessions},
		call:      caller{client: deps.Backend, logger: logger, now: clock},
		orderPath: deps.Endpoints.Order,
		defaults:  deps.Defaults,
		logger:    logger,
	}, nil
}

// StartCheckout attaches the customer, reuses or allocates the order's payment record,
// configures delivery and payment method, requests the client payment token and returns the
// payment record. The first failing call ends the pipeline; earlier calls are not undone.
func (s *checkoutService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutResult, error) {
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if strings.TrimSpace(s.orderPath) == "" {
		return CheckoutResult{}, ErrMissingConfiguration
	}

	customerNumber := firstNonEmpty(cmd.CustomerNumber, s.defaults.CustomerNumber)
	if customerNumber == "" {
		return CheckoutResult{}, validationError("Missing customerNumber", nil)
	}
	addCustomer := orderAction("addCustomer",
		map[string]any{"Customer::customer_number": customerNumber},
		orderNumberKey, "Payments")
	if _, err := s.call.sendOK(ctx, sess, "addCustomer", "Checkout failed (addCustomer)", s.orderPath, addCustomer, backend.WithoutRedirects()); err != nil {
		return CheckoutResult{}, err
	}

	existing, err := s.call.sendOK(ctx, sess, "checkPayments", "Checkout failed (check payments)", s.orderPath, orderGet("Payments"), backend.WithoutRedirects())
	if err != nil {
		return CheckoutResult{}, err
	}
	paymentID := backend.PaymentIDFromPayments(backend.Payments(existing.Data()))
	reused := paymentID != ""

	if !reused {
		allocated, err := s.call.sendOK(ctx, sess, "addPayment", "Checkout failed (addPayment)", s.orderPath,
			orderAction("addPayment", nil, "Payments"), backend.WithoutRedirects())
		if err != nil {
			return CheckoutResult{}, err
		}
		paymentID = backend.PaymentIDFromPayments(backend.Payments(allocated.Data()))
		if paymentID == "" {
			return CheckoutResult{}, &StepError{
				Step:     "addPayment",
				Message:  "No paymentID found after addPayment",
				Response: allocated,
				Err:      ErrNoPaymentIDAllocated,
			}
		}
	}

	set := map[string]any{
		backend.PaymentsKey(paymentID, "cardholder_name"): firstNonEmpty(cmd.CardholderName, s.defaults.CardholderName),
	}
	if delivery := firstNonEmpty(cmd.DeliveryMethodID, s.defaults.DeliveryMethodID); delivery != "" {
		set["Order::deliverymethod_id"] = delivery
	}
	if method := strings.TrimSpace(cmd.PaymentMethodID); method != "" {
		set[backend.PaymentsKey(paymentID, "active_payment")] = method
	}
	if s.defaults.SwipeIndicator {
		set[backend.PaymentsKey(paymentID, "swipe_indicator")] = swipeIndicatorInternet
	}
	configure := backend.Request{Set: set, Get: []string{orderNumberKey, "Payments"}, ObjectName: orderObject}
	if _, err := s.call.sendOK(ctx, sess, "setDeliveryAndPayment", "Checkout failed (set delivery/payment)", s.orderPath, configure, backend.WithoutRedirects()); err != nil {
		return CheckoutResult{}, err
	}

	token := orderAction("getPaymentClientToken", map[string]any{
		"payment_id":      paymentID,
		"pa_response_URL": s.defaults.PAResponseURL,
	}, orderNumberKey, "Payments")
	if _, err := s.call.sendOK(ctx, sess, "getPaymentClientToken", "Checkout failed (getPaymentClientToken)", s.orderPath, token, backend.WithoutRedirects()); err != nil {
		return CheckoutResult{}, err
	}

	recordKey := backend.PaymentsKey(paymentID)
	details, err := s.call.sendOK(ctx, sess, "getPaymentRecord", "Checkout failed (get payment details)", s.orderPath, orderGet(recordKey))
	if err != nil {
		return CheckoutResult{}, err
	}

	s.logger(ctx, "checkout_started", map[string]any{
		"paymentId":     paymentID,
		"reusedPayment": reused,
	})
	return CheckoutResult{
		PaymentID:      paymentID,
		PaymentDetails: details.Data()[recordKey],
		ReusedPayment:  reused,
		State:          domain.PaymentStateInitiated,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
