package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/payments"
	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/platform/requestctx"
	"github.com/ticketgate/api/internal/services"
)

// PaymentHandlers exposes payment completion, the 3-D Secure return leg and gateway lookups.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs the payment handlers.
func NewPaymentHandlers(svc services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: svc}
}

// Routes registers the lookup endpoints. Completion endpoints are registered separately by
// CompletionRoutes so the router can wrap them with idempotency handling.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/getPaymentMethodType", h.paymentMethodType)
	r.Post("/getPaymentClientConfig", h.clientConfig)
	r.Post("/getPaymentResponse", h.gatewayConfig)
}

// CompletionRoutes registers the endpoints that finalize an order.
func (h *PaymentHandlers) CompletionRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/transaction", h.transaction)
	r.Post("/processAdyenPayment", h.externalPayment)
	r.Post("/processThreeDSResponse", h.challengeResponse)
}

type transactionRequest struct {
	PaymentData any        `json:"paymentData"`
	PaymentID   flexString `json:"paymentID"`
	OrderData   struct {
		PaymentMethod string `json:"paymentMethod"`
	} `json:"orderData"`
}

type transactionDetails struct {
	Success         bool   `json:"success"`
	TransactionID   string `json:"transactionId"`
	OrderID         string `json:"orderId"`
	Timestamp       string `json:"timestamp"`
	PaymentMethod   string `json:"paymentMethod"`
	Status          string `json:"status"`
	BackendResponse any    `json:"backendResponse,omitempty"`
	UpdateResult    any    `json:"updateResult,omitempty"`
	ActionsResult   any    `json:"actionsResult,omitempty"`
}

type transactionResponse struct {
	Success            bool               `json:"success"`
	PaymentID          string             `json:"paymentID,omitempty"`
	OrderID            string             `json:"orderId"`
	TransactionID      string             `json:"transactionId"`
	RedirectURL        string             `json:"redirectUrl"`
	TransactionDetails transactionDetails `json:"transactionDetails"`
}

func newTransactionResponse(result services.TransactionResult) transactionResponse {
	c := result.Confirmation
	return transactionResponse{
		Success:       true,
		PaymentID:     result.PaymentID,
		OrderID:       c.OrderID(),
		TransactionID: c.TransactionID,
		RedirectURL:   c.RedirectURL,
		TransactionDetails: transactionDetails{
			Success:       true,
			TransactionID: c.TransactionID,
			OrderID:       c.OrderID(),
			Timestamp:     c.CompletedAt.UTC().Format(time.RFC3339Nano),
			PaymentMethod: c.PaymentMethod,
			Status:        "completed",
		},
	}
}

func (h *PaymentHandlers) transaction(w http.ResponseWriter, r *http.Request) {
	var body transactionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.payments.CompleteTransaction(r.Context(), services.CompleteTransactionCommand{
		SessionID:      sessionID(r),
		PaymentID:      string(body.PaymentID),
		PaymentMethod:  body.OrderData.PaymentMethod,
		IdempotencyKey: requestctx.IdempotencyKey(r.Context()),
	})
	if err != nil {
		h.writeCompletionError(w, r, err)
		return
	}
	resp := newTransactionResponse(result)
	resp.TransactionDetails.BackendResponse = responseBody(result.Response)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type externalPaymentRequest struct {
	ExternalData string     `json:"externalData"`
	PaymentID    flexString `json:"paymentID"`
}

type externalPaymentResponse struct {
	transactionResponse
	ExternalDataSet          bool           `json:"externalDataSet"`
	TransactionCompleted     bool           `json:"transactionCompleted"`
	ExternalDataVerification map[string]any `json:"externalDataVerification"`
	Payments                 map[string]any `json:"payments"`
	Message                  string         `json:"message"`
	RawTransactionResponse   any            `json:"rawTransactionResponse"`
}

func (h *PaymentHandlers) externalPayment(w http.ResponseWriter, r *http.Request) {
	var body externalPaymentRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.payments.CompleteExternalPayment(r.Context(), services.ExternalPaymentCommand{
		SessionID:      sessionID(r),
		PaymentID:      string(body.PaymentID),
		ExternalData:   body.ExternalData,
		IdempotencyKey: requestctx.IdempotencyKey(r.Context()),
	})
	var verr *services.VerificationError
	if errors.As(err, &verr) {
		// The backend answered; the mismatch is a business outcome, not a transport failure.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":         false,
			"paymentID":       verr.PaymentID,
			"externalDataSet": false,
			"expectedData":    verr.Expected,
			"actualData":      verr.Actual,
			"payments":        verr.Payments,
			"message":         "Adyen payment data verification failed",
			"rawResponse":     responseBody(verr.Response),
		})
		return
	}
	if err != nil {
		h.writeCompletionError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, externalPaymentResponse{
		transactionResponse:  newTransactionResponse(result.TransactionResult),
		ExternalDataSet:      true,
		TransactionCompleted: true,
		ExternalDataVerification: map[string]any{
			"expectedData": result.Expected,
			"actualData":   result.Actual,
		},
		Payments:               result.Payments,
		Message:                "Adyen payment processed and transaction completed successfully",
		RawTransactionResponse: responseBody(result.Response),
	})
}

type challengeRequest struct {
	PaymentID                  flexString `json:"paymentId"`
	PAResponseInformation      string     `json:"pa_response_information"`
	PAResponseURL              string     `json:"pa_response_URL"`
	PAResponseInformationCamel string     `json:"paResponseInformation"`
	PAResponseURLCamel         string     `json:"paResponseURL"`
	Query                      string     `json:"query"`
}

func (h *PaymentHandlers) challengeResponse(w http.ResponseWriter, r *http.Request) {
	var body challengeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	info := body.PAResponseInformation
	if info == "" {
		info = body.PAResponseInformationCamel
	}
	returnURL := body.PAResponseURL
	if returnURL == "" {
		returnURL = body.PAResponseURLCamel
	}
	result, err := h.payments.SubmitChallengeResponse(r.Context(), services.ChallengeResponseCommand{
		SessionID:             sessionID(r),
		PaymentID:             string(body.PaymentID),
		PAResponseInformation: info,
		PAResponseURL:         returnURL,
		Query:                 body.Query,
		IdempotencyKey:        requestctx.IdempotencyKey(r.Context()),
	})
	if err != nil {
		h.writeCompletionError(w, r, err)
		return
	}
	resp := newTransactionResponse(result.TransactionResult)
	resp.TransactionDetails.UpdateResult = responseBody(result.SetResponse)
	resp.TransactionDetails.ActionsResult = responseBody(result.Response)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// writeCompletionError answers 402 with the challenge parameters when the insert asked for
// step-up authentication; everything else goes through the shared mapping.
func (h *PaymentHandlers) writeCompletionError(w http.ResponseWriter, r *http.Request, err error) {
	var challenge *services.ChallengeRequiredError
	if errors.As(err, &challenge) {
		raw := responseBody(challenge.Response)
		if raw == nil {
			raw = responseBody(challenge.Insert)
		}
		httpx.WriteJSON(w, http.StatusPaymentRequired, map[string]any{
			"success":       false,
			"error":         "3ds required",
			"code":          backend.StepUpWarningCode,
			"paymentId":     challenge.Challenge.PaymentID,
			"paRequestInfo": challenge.Challenge.PARequestInfo,
			"paRequestURL":  challenge.Challenge.PARequestURL,
			"rawResponse":   raw,
		})
		return
	}
	writeServiceError(w, r, err, nil)
}

type paymentIDRequest struct {
	PaymentID flexString `json:"paymentID"`
}

func (h *PaymentHandlers) paymentMethodType(w http.ResponseWriter, r *http.Request) {
	var body paymentIDRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.payments.PaymentMethodType(r.Context(), sessionID(r), string(body.PaymentID))
	if err != nil {
		writeServiceError(w, r, err, map[string]any{"success": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"paymentID":         result.PaymentID,
		"paymentMethodType": result.Type,
		"rawResponse":       responseBody(result.Response),
	})
}

func (h *PaymentHandlers) gatewayConfig(w http.ResponseWriter, r *http.Request) {
	var body paymentIDRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.payments.GatewayConfig(r.Context(), sessionID(r), string(body.PaymentID))
	if err != nil {
		writeServiceError(w, r, err, map[string]any{"success": false})
		return
	}
	resp := map[string]any{
		"success":       true,
		"paymentID":     result.PaymentID,
		"gatewayConfig": result.GatewayConfig,
		"rawResponse":   responseBody(result.Response),
	}
	if result.PaymentMethods != nil {
		resp["paymentMethodsResponse"] = result.PaymentMethods
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	if result.ParseError != "" {
		resp["parseError"] = result.ParseError
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type clientConfigRequest struct {
	PaymentMethodID flexString `json:"paymentMethodId"`
}

type clientConfigResponse struct {
	payments.ClientConfig
	APIError    any    `json:"apiError,omitempty"`
	APIResponse any    `json:"apiResponse,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (h *PaymentHandlers) clientConfig(w http.ResponseWriter, r *http.Request) {
	var body clientConfigRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.payments.ClientConfig(r.Context(), services.ClientConfigCommand{
		SessionID:       sessionID(r),
		PaymentMethodID: string(body.PaymentMethodID),
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, clientConfigResponse{
		ClientConfig: result.Config,
		APIError:     result.APIError,
		APIResponse:  result.APIResponse,
		Error:        result.Error,
	})
}
