package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/repositories"
)

// CatalogServiceDeps bundles collaborators for the catalog service.
type CatalogServiceDeps struct {
	Sessions  repositories.SessionRepository
	Backend   BackendClient
	Endpoints Endpoints
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	store     sessionStore
	call      caller
	endpoints Endpoints
	policy    *bluemonday.Policy
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("catalog service: session repository is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("catalog service: backend client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := eventLogger(deps.Logger)
	if logger == nil {
		logger = noopLogger
	}
	return &catalogService{
		store:     sessionStore{repo: deps.Sessions},
		call:      caller{client: deps.Backend, logger: logger, now: clock},
		endpoints: deps.Endpoints,
		policy:    newDescriptionPolicy(),
	}, nil
}

func (s *catalogService) UpcomingEvents(ctx context.Context, cmd UpcomingEventsCommand) (UpcomingEvents, error) {
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return UpcomingEvents{}, err
	}

	method := "search"
	switch cmd.MovePage {
	case 1:
		method = "nextPage"
	case -1:
		method = "prevPage"
	}
	payload := backend.Request{
		Actions: []backend.Action{{Method: method}},
		Set: map[string]any{
			"SearchCriteria::object_type_filter": "P",
			"SearchCriteria::search_criteria":    "",
			"SearchCriteria::search_from":        "",
			"SearchCriteria::search_to":          "",
		},
		Get: []string{
			"SearchResultsInfo::total_records",
			"SearchResultsInfo::current_page",
			"SearchResultsInfo::total_pages",
			"SearchResults",
		},
		ObjectName: searchObject,
	}

	resp, err := s.call.sendOK(ctx, sess, "search", "Upcoming failed", s.endpoints.Upcoming, payload)
	if err != nil {
		return UpcomingEvents{}, err
	}
	if backend.HasSoftError(resp.Body) {
		return UpcomingEvents{}, &StepError{Step: "search", Message: "Upstream error", Response: resp, Err: ErrValidation}
	}

	data := resp.Data()
	results, _ := data["SearchResults"].(map[string]any)
	events := make([]any, 0, len(results))
	for _, key := range orderedKeys(results) {
		events = append(events, s.sanitize(results[key]))
	}
	return UpcomingEvents{
		Events:       events,
		TotalRecords: backend.Standard(data, "SearchResultsInfo::total_records"),
		CurrentPage:  backend.Standard(data, "SearchResultsInfo::current_page"),
		TotalPages:   backend.Standard(data, "SearchResultsInfo::total_pages"),
	}, nil
}

func (s *catalogService) Performance(ctx context.Context, sessionID, performanceID string) (map[string]any, error) {
	performanceID = strings.TrimSpace(performanceID)
	if performanceID == "" {
		return nil, validationError("Missing performance id", nil)
	}
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	payload := backend.Request{
		Actions: []backend.Action{{
			Method: "load",
			Params: map[string]any{"Performance": map[string]any{"performance_id": performanceID}},
		}},
		Get: []string{"Performance"},
	}
	resp, err := s.call.sendOK(ctx, sess, "performance.load", "performance.load failed", s.endpoints.Performance, payload)
	if err != nil {
		return nil, err
	}
	perf, ok := resp.Data()["Performance"].(map[string]any)
	if !ok || len(perf) == 0 {
		return nil, notFoundError("Performance not found", map[string]any{"details": resp.Body})
	}
	sanitized, _ := s.sanitize(perf).(map[string]any)
	return sanitized, nil
}

func (s *catalogService) Pricing(ctx context.Context, sessionID, performanceID string) (any, error) {
	performanceID = strings.TrimSpace(performanceID)
	if performanceID == "" {
		return nil, validationError("Missing performance id", nil)
	}
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"performance_ids": []string{performanceID}}
	payload := backend.Request{
		Actions: []backend.Action{
			{Method: "loadBestAvailable", Params: params},
			{Method: "loadAvailability", Params: params},
		},
		Get: []string{"pricetypes"},
	}
	resp, err := s.call.sendOK(ctx, sess, "map.loadMap", "loadMap(pricing) failed", s.endpoints.Map, payload)
	if err != nil {
		return nil, err
	}
	return resp.Data()["pricetypes"], nil
}

func (s *catalogService) BestAvailable(ctx context.Context, cmd BestAvailableCommand) (any, error) {
	performanceID := strings.TrimSpace(cmd.PerformanceID)
	if performanceID == "" {
		return nil, validationError("Missing performance id", nil)
	}
	priceType := strings.TrimSpace(cmd.PriceTypeID)
	if priceType == "" {
		return nil, validationError("Missing priceTypeId", nil)
	}
	seats := strings.TrimSpace(cmd.NumSeats)
	if n, err := strconv.Atoi(seats); err != nil || n <= 0 {
		return nil, validationError("numSeats must be a positive number", nil)
	}
	sess, err := s.store.authenticated(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	payload := orderAction("getBestAvailable", map[string]any{
		"perfVector":           []string{performanceID},
		"reqRows":              "1",
		"reqNum::" + priceType: seats,
		"optNum":               "2",
	}, "Admissions", "AvailablePaymentMethods", "DeliveryMethodDetails")

	resp, err := s.call.sendOK(ctx, sess, "getBestAvailable", "getBestAvailable failed", s.endpoints.Order, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *catalogService) RemoveSeat(ctx context.Context, sessionID, admissionID string) (any, error) {
	admissionID = strings.TrimSpace(admissionID)
	if admissionID == "" {
		return nil, validationError("Missing admissionId", nil)
	}
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	payload := backend.Request{
		Actions: []backend.Action{{
			Method:         "manageAdmissions",
			Params:         map[string]any{"removeAdmissionID": []string{admissionID}},
			AcceptWarnings: []int{backend.RemoveAdmissionWarningCode},
		}},
		Get:        []string{"Order", "Admissions", "AvailablePaymentMethods", "DeliveryMethodDetails", "Seats"},
		ObjectName: orderObject,
	}
	resp, err := s.call.sendOK(ctx, sess, "manageAdmissions", "Failed to remove admission", s.endpoints.Order, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *catalogService) Order(ctx context.Context, sessionID string) (OrderSnapshot, error) {
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	resp, err := s.call.sendOK(ctx, sess, "order.get", "Failed to fetch order details", s.endpoints.Order, orderGet("Order", "Admissions"))
	if err != nil {
		return OrderSnapshot{}, err
	}
	data := resp.Data()
	return OrderSnapshot{Order: data["Order"], Admissions: data["Admissions"], Raw: resp.Body}, nil
}

func (s *catalogService) PaymentDetails(ctx context.Context, sessionID string) (PaymentSnapshot, error) {
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return PaymentSnapshot{}, err
	}
	resp, err := s.call.sendOK(ctx, sess, "payments.get", "Failed to fetch payment details", s.endpoints.Order, orderGet("Payments"))
	if err != nil {
		return PaymentSnapshot{}, err
	}
	return PaymentSnapshot{Payments: resp.Data()["Payments"], Raw: resp.Body}, nil
}

func (s *catalogService) AccountDetails(ctx context.Context, sessionID string) (any, error) {
	sess, err := s.store.authenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lookup := backend.Request{Session: &backend.SessionQuery{Get: []string{"customer_id"}}}
	resp, err := s.call.sendOK(ctx, sess, "session.customer_id", "Failed to retrieve customer_id from session", s.endpoints.User, lookup)
	if err != nil {
		return nil, err
	}
	customerID := backend.Standard(resp.Data(), "customer_id")
	if customerID == "" {
		return nil, validationError("Customer ID not found in session", nil)
	}

	load := backend.Request{
		Actions: []backend.Action{{
			Method: "load",
			Params: map[string]any{"Customer::customer_id": customerID},
		}},
		Get:        []string{"Customer", "Payments", "Addresses"},
		ObjectName: customerObject,
	}
	resp, err = s.call.sendOK(ctx, sess, "customer.load", "Failed to load customer details", s.endpoints.Customer, load)
	if err != nil {
		return nil, err
	}
	return resp.Data(), nil
}

// sanitize strips unsafe markup from description fields, which the backend stores as
// operator-authored HTML.
func (s *catalogService) sanitize(value any) any {
	return sanitizeDescriptions(s.policy, value, false, 0)
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

const maxSanitizeDepth = 16

func sanitizeDescriptions(policy *bluemonday.Policy, value any, inDescription bool, depth int) any {
	if depth > maxSanitizeDepth {
		return value
	}
	switch v := value.(type) {
	case string:
		if inDescription {
			return policy.Sanitize(v)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[key] = sanitizeDescriptions(policy, child, inDescription || isDescriptionKey(key), depth+1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = sanitizeDescriptions(policy, child, inDescription, depth+1)
		}
		return out
	default:
		return value
	}
}

func isDescriptionKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "description")
}

// orderedKeys sorts numeric keys numerically and the rest lexically after them; search results
// are keyed by their position.
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
