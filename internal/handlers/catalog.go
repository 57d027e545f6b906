package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/services"
)

// CatalogHandlers exposes events, seat selection and order read endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs the catalog handlers.
func NewCatalogHandlers(svc services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: svc}
}

// Routes registers the catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/events/upcoming", h.upcoming)
	r.Get("/events/{performanceID}", h.performance)
	r.Post("/map/pricing/{performanceID}", h.pricing)
	r.Post("/map/availability/{performanceID}", h.availability)
	r.Post("/removeSeat", h.removeSeat)
	r.Get("/order", h.order)
	r.Get("/details", h.details)
	r.Post("/getMyAccountDetails", h.accountDetails)
}

type upcomingResponse struct {
	Events       []any  `json:"events"`
	TotalRecords string `json:"totalRecords,omitempty"`
	CurrentPage  string `json:"currentPage,omitempty"`
	TotalPages   string `json:"totalPages,omitempty"`
}

func (h *CatalogHandlers) upcoming(w http.ResponseWriter, r *http.Request) {
	move, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("movePage")))
	result, err := h.catalog.UpcomingEvents(r.Context(), services.UpcomingEventsCommand{
		SessionID: sessionID(r),
		MovePage:  move,
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	events := result.Events
	if events == nil {
		events = []any{}
	}
	httpx.WriteJSON(w, http.StatusOK, upcomingResponse{
		Events:       events,
		TotalRecords: result.TotalRecords,
		CurrentPage:  result.CurrentPage,
		TotalPages:   result.TotalPages,
	})
}

func (h *CatalogHandlers) performance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.catalog.Performance(r.Context(), sessionID(r), chi.URLParam(r, "performanceID"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, perf)
}

func (h *CatalogHandlers) pricing(w http.ResponseWriter, r *http.Request) {
	pricetypes, err := h.catalog.Pricing(r.Context(), sessionID(r), chi.URLParam(r, "performanceID"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"pricetypes": pricetypes})
}

type availabilityRequest struct {
	PriceTypeID flexString `json:"priceTypeId"`
	NumSeats    flexString `json:"numSeats"`
}

func (h *CatalogHandlers) availability(w http.ResponseWriter, r *http.Request) {
	var body availabilityRequest
	if !decodeBody(w, r, &body) {
		return
	}
	data, err := h.catalog.BestAvailable(r.Context(), services.BestAvailableCommand{
		SessionID:     sessionID(r),
		PerformanceID: chi.URLParam(r, "performanceID"),
		PriceTypeID:   string(body.PriceTypeID),
		NumSeats:      string(body.NumSeats),
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, data)
}

type removeSeatRequest struct {
	AdmissionID flexString `json:"admissionId"`
}

func (h *CatalogHandlers) removeSeat(w http.ResponseWriter, r *http.Request) {
	var body removeSeatRequest
	if !decodeBody(w, r, &body) {
		return
	}
	resp, err := h.catalog.RemoveSeat(r.Context(), sessionID(r), string(body.AdmissionID))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "response": resp})
}

func (h *CatalogHandlers) order(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.catalog.Order(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"order":       snapshot.Order,
		"admissions":  snapshot.Admissions,
		"rawResponse": snapshot.Raw,
	})
}

func (h *CatalogHandlers) details(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.catalog.PaymentDetails(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"payments":    snapshot.Payments,
		"rawResponse": snapshot.Raw,
	})
}

func (h *CatalogHandlers) accountDetails(w http.ResponseWriter, r *http.Request) {
	data, err := h.catalog.AccountDetails(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, r, err, map[string]any{"success": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "response": data})
}
