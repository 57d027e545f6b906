package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ticketgate/api/internal/backend"
	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/payments"
	"github.com/ticketgate/api/internal/repositories"
)

const (
	insertNotification = "correspondence"

	paRequestInformation  = "pa_request_information"
	paRequestURL          = "pa_request_URL"
	paResponseInformation = "pa_response_information"
	paResponseURL         = "pa_response_URL"
	externalPaymentData   = "external_payment_data"
	paymentMethodType     = "paymentmethod_type"
	gatewayConfigField    = "paymentmethod_gateway_config"

	defaultCardPaymentLabel      = "Credit Card"
	externalPaymentLabel         = "Adyen"
	challengePaymentLabel        = "3DS Payment"
	invalidPaymentAPIResponseMsg = "Invalid response from payment API"
)

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Sessions  repositories.SessionRepository
	Backend   BackendClient
	Endpoints Endpoints
	Gateway   payments.GatewayDefaults
	// ConfirmationPath is the page the browser is sent to after finalizing.
	ConfirmationPath string
	// PAResponseURL is used when a challenge response names no return URL.
	PAResponseURL  string
	Publisher      CheckoutEventPublisher
	TransactionIDs *payments.TransactionIDs
	IDGenerator    func() string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	store            sessionStore
	call             caller
	endpoints        Endpoints
	gateway          payments.GatewayDefaults
	confirmationPath string
	paResponseURL    string
	publisher        CheckoutEventPublisher
	txnIDs           *payments.TransactionIDs
	newID            func() string
	now              func() time.Time
	logger           eventLogger
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("payment service: session repository is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("payment service: backend client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
	logger := eventLogger(deps.Logger)
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	txnIDs := deps.TransactionIDs
	if txnIDs == nil {
		txnIDs = payments.NewTransactionIDs(clock)
	}
	gateway := deps.Gateway
	if gateway.Environment == "" {
		gateway.Environment = "test"
	}

	return &paymentService{
		store:            sessionStore{repo: deps.Sessions},
		call:             caller{client: deps.Backend, logger: logger, now: now},
		endpoints:        deps.Endpoints,
		gateway:          gateway,
		confirmationPath: deps.ConfirmationPath,
		paResponseURL:    strings.TrimSpace(deps.PAResponseURL),
		publisher:        deps.Publisher,
		txnIDs:           txnIDs,
		newID:            idGen,
		now:              now,
		logger:           logger,
	}, nil
}

// attempt tracks one pass through the completion state machine.
type attempt struct {
	sessionID      string
	paymentID      string
	idempotencyKey string
	state          PaymentState
}

func (s *paymentService) advance(ctx context.Context, a *attempt, next PaymentState) {
	if !a.state.CanTransitionTo(next) {
		s.logger(ctx, "payment_transition_check_failed", map[string]any{
			"paymentId": a.paymentID,
			"from":      string(a.state),
			"to":        string(next),
		})
	}
	s.logger(ctx, "payment_transition", map[string]any{
		"paymentId": a.paymentID,
		"from":      string(a.state),
		"to":        string(next),
	})
	a.state = next
}

// CompleteTransaction finalizes an order whose card data the hosted fields already submitted.
func (s *paymentService) CompleteTransaction(ctx context.Context, cmd CompleteTransactionCommand) (TransactionResult, error) {
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return TransactionResult{}, err
	}
	a := &attempt{
		sessionID:      cmd.SessionID,
		paymentID:      strings.TrimSpace(cmd.PaymentID),
		idempotencyKey: cmd.IdempotencyKey,
		state:          domain.PaymentStateInitiated,
	}
	s.advance(ctx, a, domain.PaymentStateDataSubmitted)

	label := firstNonEmpty(cmd.PaymentMethod, defaultCardPaymentLabel)
	return s.finalize(ctx, sess, a, label, "Transaction failed", nil)
}

// CompleteExternalPayment stores a gateway state blob on the payment record, checks that the
// backend echoes it verbatim and only then finalizes.
func (s *paymentService) CompleteExternalPayment(ctx context.Context, cmd ExternalPaymentCommand) (ExternalPaymentResult, error) {
	if cmd.ExternalData == "" {
		return ExternalPaymentResult{}, validationError("Missing externalData", map[string]any{
			"message": "externalData is required for Adyen payment processing",
		})
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return ExternalPaymentResult{}, validationError("Missing paymentID", map[string]any{
			"message": "paymentID is required to identify the payment record",
		})
	}
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return ExternalPaymentResult{}, err
	}
	a := &attempt{
		sessionID:      cmd.SessionID,
		paymentID:      paymentID,
		idempotencyKey: cmd.IdempotencyKey,
		state:          domain.PaymentStateInitiated,
	}

	set := backend.Request{
		Set:        map[string]any{backend.PaymentsKey(paymentID, externalPaymentData): cmd.ExternalData},
		Get:        []string{"Payments"},
		ObjectName: orderObject,
	}
	setResp, err := s.call.sendOK(ctx, sess, "setExternalPaymentData", "Failed to process Adyen payment", s.endpoints.Order, set)
	if err != nil {
		return ExternalPaymentResult{}, err
	}
	if _, ok := setResp.Object(); !ok {
		return ExternalPaymentResult{}, invalidResponse(setResp)
	}
	s.advance(ctx, a, domain.PaymentStateDataSubmitted)

	paymentRecords := backend.Payments(setResp.Data())
	record, _ := paymentRecords[paymentID].(map[string]any)
	var actual any
	if field, ok := backend.Field(record, externalPaymentData); ok {
		actual = field[backend.RepresentationStandard]
	}
	if echoed, ok := actual.(string); !ok || echoed != cmd.ExternalData {
		s.advance(ctx, a, domain.PaymentStateFailed)
		s.publish(ctx, a, domain.CheckoutEventVerificationFailed, setResp.Status, Confirmation{})
		return ExternalPaymentResult{}, &VerificationError{
			PaymentID: paymentID,
			Expected:  cmd.ExternalData,
			Actual:    actual,
			Payments:  paymentRecords,
			Response:  setResp,
		}
	}

	result, err := s.finalize(ctx, sess, a, externalPaymentLabel, "Failed to complete transaction", map[string]any{
		"success":         false,
		"externalDataSet": true,
		"paymentID":       paymentID,
	})
	if err != nil {
		return ExternalPaymentResult{}, err
	}
	return ExternalPaymentResult{TransactionResult: result, Expected: cmd.ExternalData, Actual: actual}, nil
}

// SubmitChallengeResponse relays the payer's challenge result and finalizes. The finalize call
// is made even when storing the response fails, since the backend may already hold it.
func (s *paymentService) SubmitChallengeResponse(ctx context.Context, cmd ChallengeResponseCommand) (ChallengeResult, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return ChallengeResult{}, validationError("Missing required parameter: paymentId", nil)
	}
	information := cmd.PAResponseInformation
	if information == "" && strings.TrimSpace(cmd.Query) != "" {
		encoded, err := payments.EncodePAResponse(cmd.Query)
		if err != nil {
			return ChallengeResult{}, validationError("Invalid 3-D Secure response query", map[string]any{"message": err.Error()})
		}
		information = encoded
	}
	if information == "" {
		return ChallengeResult{}, validationError("Missing required parameter: pa_response_information", nil)
	}
	returnURL := firstNonEmpty(cmd.PAResponseURL, s.paResponseURL)
	if returnURL == "" {
		return ChallengeResult{}, validationError("Missing required parameter: pa_response_URL", nil)
	}
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return ChallengeResult{}, err
	}
	a := &attempt{
		sessionID:      cmd.SessionID,
		paymentID:      paymentID,
		idempotencyKey: cmd.IdempotencyKey,
		state:          domain.PaymentStateChallengeRequired,
	}

	set := backend.Request{
		Set: map[string]any{
			backend.PaymentsKey(paymentID, paResponseInformation): information,
			backend.PaymentsKey(paymentID, paResponseURL):         returnURL,
		},
		Get:        []string{"Payments"},
		ObjectName: orderObject,
	}
	setResp, err := s.call.send(ctx, sess, "setChallengeResponse", s.endpoints.Order, set, backend.WithoutRedirects())
	if err != nil {
		return ChallengeResult{}, err
	}
	s.advance(ctx, a, domain.PaymentStateChallengeSubmitted)

	result, err := s.finalize(ctx, sess, a, challengePaymentLabel, "Failed to complete transaction", nil)
	if err != nil {
		return ChallengeResult{}, err
	}
	if result.Confirmation.OrderNumber == "" {
		if number := backend.Standard(setResp.Data(), orderNumberKey); number != "" {
			result.Confirmation.OrderNumber = number
			result.Confirmation.RedirectURL = payments.ConfirmationURL(s.confirmationPath, number, result.Confirmation.TransactionID)
		}
	}
	return ChallengeResult{TransactionResult: result, SetResponse: setResp}, nil
}

// finalize submits the order insert. A non-2xx answer carrying the step-up marker moves the
// attempt to ChallengeRequired; any other non-2xx answer fails it.
func (s *paymentService) finalize(ctx context.Context, sess *sessionHandle, a *attempt, label, failure string, failureDetails map[string]any) (TransactionResult, error) {
	insert := backend.Request{
		Actions: []backend.Action{{
			Method:         "insert",
			Params:         map[string]any{"notification": insertNotification},
			AcceptWarnings: backend.FinalizeAcceptedWarnings,
		}},
		Get:        []string{orderNumberKey, "Payments"},
		ObjectName: orderObject,
	}
	resp, err := s.call.send(ctx, sess, "insert", s.endpoints.Order, insert, backend.WithoutRedirects())
	if err != nil {
		return TransactionResult{}, err
	}

	if !resp.OK() {
		if backend.IsStepUpRequired(resp.Body) {
			return TransactionResult{}, s.requireChallenge(ctx, sess, a, resp)
		}
		s.advance(ctx, a, domain.PaymentStateFailed)
		s.publish(ctx, a, domain.CheckoutEventFailed, resp.Status, Confirmation{})
		return TransactionResult{}, &StepError{Step: "insert", Message: failure, Response: resp, Details: failureDetails}
	}

	data := resp.Data()
	if a.paymentID == "" {
		a.paymentID = backend.PaymentIDFromPayments(backend.Payments(data))
	}
	txnID := s.txnIDs.Next()
	orderNumber := backend.Standard(data, orderNumberKey)
	confirmation := Confirmation{
		OrderNumber:   orderNumber,
		TransactionID: txnID,
		RedirectURL:   payments.ConfirmationURL(s.confirmationPath, orderNumber, txnID),
		PaymentMethod: label,
		CompletedAt:   s.now(),
	}
	s.advance(ctx, a, domain.PaymentStateFinalized)
	s.publish(ctx, a, domain.CheckoutEventFinalized, resp.Status, confirmation)

	return TransactionResult{
		PaymentID:    a.paymentID,
		State:        a.state,
		Confirmation: confirmation,
		Payments:     backend.Payments(data),
		Response:     resp,
	}, nil
}

// requireChallenge reads the step-up material off the payment record. The request information
// is JSON the backend sometimes encodes twice.
func (s *paymentService) requireChallenge(ctx context.Context, sess *sessionHandle, a *attempt, insert *backend.Response) error {
	s.advance(ctx, a, domain.PaymentStateChallengeRequired)

	if a.paymentID == "" {
		a.paymentID = backend.PaymentIDFromPayments(backend.Payments(insert.Data()))
	}
	if a.paymentID == "" {
		lookup, err := s.call.send(ctx, sess, "lookupPayment", s.endpoints.Order, orderGet("Payments"))
		if err != nil {
			return err
		}
		a.paymentID = backend.PaymentIDFromPayments(backend.Payments(lookup.Data()))
	}

	challenge := Challenge{PaymentID: a.paymentID}
	challengeErr := &ChallengeRequiredError{Challenge: challenge, Response: insert, Insert: insert}
	if a.paymentID != "" {
		infoKey := backend.PaymentsKey(a.paymentID, paRequestInformation)
		urlKey := backend.PaymentsKey(a.paymentID, paRequestURL)
		lookup, err := s.call.send(ctx, sess, "getChallenge", s.endpoints.Order, orderGet(infoKey, urlKey))
		if err != nil {
			return err
		}
		data := lookup.Data()
		if value, ok := backend.PreferredValue(data[infoKey]); ok {
			challengeErr.Challenge.PARequestInfo = backend.UnwrapJSON(value)
		}
		if value, ok := backend.PreferredValue(data[urlKey]); ok {
			challengeErr.Challenge.PARequestURL = backend.UnwrapJSON(value)
		}
		challengeErr.Response = lookup
	}

	s.publish(ctx, a, domain.CheckoutEventChallengeRequired, insert.Status, Confirmation{})
	return challengeErr
}

func (s *paymentService) PaymentMethodType(ctx context.Context, sessionID, paymentID string) (PaymentMethodTypeResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentMethodTypeResult{}, validationError("Missing required parameter: paymentID", nil)
	}
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return PaymentMethodTypeResult{}, err
	}
	key := backend.PaymentsKey(paymentID, paymentMethodType)
	resp, err := s.readPaymentField(ctx, sess, "getPaymentMethodType", "Failed to fetch payment method type", key)
	if err != nil {
		return PaymentMethodTypeResult{}, err
	}
	value := resp.Data()[key]
	if value == nil {
		return PaymentMethodTypeResult{}, notFoundError("Payment method type not found", map[string]any{
			"paymentID":   paymentID,
			"rawResponse": resp.Body,
		})
	}
	return PaymentMethodTypeResult{PaymentID: paymentID, Type: value, Response: resp}, nil
}

func (s *paymentService) GatewayConfig(ctx context.Context, sessionID, paymentID string) (GatewayConfigResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return GatewayConfigResult{}, validationError("Missing paymentID", map[string]any{
			"message": "paymentID is required to fetch payment gateway config",
		})
	}
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return GatewayConfigResult{}, err
	}
	key := backend.PaymentsKey(paymentID, gatewayConfigField)
	resp, err := s.readPaymentField(ctx, sess, "getGatewayConfig", "Failed to fetch payment gateway config", key)
	if err != nil {
		return GatewayConfigResult{}, err
	}
	config, ok := resp.Data()[key].(map[string]any)
	if !ok {
		return GatewayConfigResult{}, notFoundError("Payment gateway config not found", map[string]any{
			"paymentID":   paymentID,
			"rawResponse": resp.Body,
		})
	}

	result := GatewayConfigResult{PaymentID: paymentID, GatewayConfig: config, Response: resp}
	encoded := gatewayMethodsValue(config)
	switch v := encoded.(type) {
	case nil:
		result.Warning = "No payment methods configuration found"
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			result.ParseError = err.Error()
		} else {
			result.PaymentMethods = parsed
		}
	default:
		result.PaymentMethods = v
	}
	return result, nil
}

// ClientConfig returns the gateway drop-in configuration of a payment method. It never fails:
// every problem falls back to the configured defaults with an annotation.
func (s *paymentService) ClientConfig(ctx context.Context, cmd ClientConfigCommand) (ClientConfigResult, error) {
	fallback := s.gateway.Fallback()
	methodID := strings.TrimSpace(cmd.PaymentMethodID)
	if methodID == "" {
		return ClientConfigResult{Config: fallback}, nil
	}
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		if isNotAuthenticated(err) {
			return ClientConfigResult{Config: fallback}, nil
		}
		return ClientConfigResult{Config: fallback, Error: err.Error()}, nil
	}

	payload := backend.Request{
		Actions: []backend.Action{{
			Method:         payments.ClientConfigMethod,
			Params:         map[string]any{"payment_method_id": methodID},
			AcceptWarnings: []int{backend.StepUpWarningCode},
		}},
		ObjectName: paymentMethodObject,
	}
	resp, err := s.call.send(ctx, sess, "getPaymentClientConfig", s.endpoints.PaymentMethod, payload)
	if err != nil {
		return ClientConfigResult{Config: fallback, Error: err.Error()}, nil
	}
	if !resp.OK() {
		return ClientConfigResult{Config: fallback, APIError: resp.Body}, nil
	}
	raw, err := payments.ExtractClientConfig(resp.Body)
	if err != nil {
		fallback.Fallback = true
		return ClientConfigResult{Config: fallback, APIResponse: resp.Body}, nil
	}
	return ClientConfigResult{Config: s.gateway.FromGateway(raw)}, nil
}

func (s *paymentService) readPaymentField(ctx context.Context, sess *sessionHandle, step, failure, key string) (*backend.Response, error) {
	resp, err := s.call.send(ctx, sess, step, s.endpoints.Order, orderGet(key))
	if err != nil {
		return nil, err
	}
	if _, ok := resp.Object(); !ok {
		return nil, invalidResponse(resp)
	}
	if !resp.OK() {
		return nil, stepFailed(step, failure, resp)
	}
	return resp, nil
}

// publish emits a checkout event. Failures are logged and never reach the caller.
func (s *paymentService) publish(ctx context.Context, a *attempt, kind domain.CheckoutEventType, status int, confirmation Confirmation) {
	if s.publisher == nil {
		return
	}
	event := CheckoutEvent{
		ID:             s.newID(),
		Type:           kind,
		SessionID:      a.sessionID,
		PaymentID:      a.paymentID,
		OrderNumber:    confirmation.OrderNumber,
		TransactionID:  confirmation.TransactionID,
		State:          a.state,
		BackendStatus:  status,
		IdempotencyKey: a.idempotencyKey,
		OccurredAt:     s.now(),
	}
	if _, err := s.publisher.PublishCheckoutEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout_event_publish_failed", map[string]any{
			"eventId": event.ID,
			"type":    string(kind),
			"error":   err.Error(),
		})
	}
}

func invalidResponse(resp *backend.Response) error {
	return &Error{
		Kind:    ErrBackendCallFailed,
		Message: invalidPaymentAPIResponseMsg,
		Details: map[string]any{"details": resp.Text()},
	}
}

// gatewayMethodsValue picks the gateway configuration representation. Unlike other fields the
// display form is preferred over input here.
func gatewayMethodsValue(config map[string]any) any {
	for _, key := range []string{backend.RepresentationStandard, backend.RepresentationDisplay, backend.RepresentationInput} {
		value, ok := config[key]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && s == "" {
			continue
		}
		return value
	}
	return nil
}
