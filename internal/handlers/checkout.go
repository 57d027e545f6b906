package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/services"
)

// CheckoutHandlers exposes the order mutation pipeline.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(svc services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: svc}
}

// Routes registers the checkout endpoint.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.startCheckout)
}

type checkoutRequest struct {
	DeliveryMethod flexString `json:"deliveryMethod"`
	PaymentMethod  flexString `json:"paymentMethod"`
	CustomerNumber flexString `json:"customerNumber"`
	CardholderName string     `json:"cardholderName"`
}

type checkoutResponse struct {
	PaymentDetails any    `json:"payment_details"`
	PaymentID      string `json:"paymentID"`
	ReusedPayment  bool   `json:"reusedPayment"`
	State          string `json:"state"`
}

func (h *CheckoutHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.checkout.StartCheckout(r.Context(), services.StartCheckoutCommand{
		SessionID:        sessionID(r),
		DeliveryMethodID: string(body.DeliveryMethod),
		PaymentMethodID:  string(body.PaymentMethod),
		CustomerNumber:   string(body.CustomerNumber),
		CardholderName:   body.CardholderName,
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutResponse{
		PaymentDetails: result.PaymentDetails,
		PaymentID:      result.PaymentID,
		ReusedPayment:  result.ReusedPayment,
		State:          string(result.State),
	})
}
