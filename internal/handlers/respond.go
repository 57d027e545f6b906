package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/platform/httpx"
	"github.com/ticketgate/api/internal/platform/requestctx"
	"github.com/ticketgate/api/internal/services"
)

const maxRequestBodyBytes int64 = 64 * 1024

var errBodyTooLarge = errors.New("request body too large")

// readLimitedBody reads at most limit bytes. An absent body yields nil without error.
func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody decodes an optional JSON request body into dst and writes the error response
// itself when it returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, maxRequestBodyBytes)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true
	}
	if err := json.Unmarshal(data, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "Invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = flexString(num.String())
	return nil
}

func sessionID(r *http.Request) string {
	return requestctx.SessionID(r.Context())
}

// writeServiceError maps service failures onto the JSON error envelope. extra is merged into
// the payload, for example to echo a paymentId back to the browser.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	ctx := r.Context()
	apiErr := serviceErrorEnvelope(err).WithDetails(extra)
	if apiErr.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed",
			zap.String("route", r.URL.Path),
			zap.Int("status", apiErr.Status),
			zap.Error(err),
		)
	} else {
		requestctx.Logger(ctx).Debug("request rejected",
			zap.String("route", r.URL.Path),
			zap.Int("status", apiErr.Status),
			zap.Error(err),
		)
	}
	httpx.WriteError(ctx, w, apiErr)
}

func serviceErrorEnvelope(err error) httpx.Error {
	var (
		stepErr *services.StepError
		svcErr  *services.Error
	)
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return httpx.NewError("not_authenticated", "Not authenticated", http.StatusUnauthorized)
	case errors.As(err, &stepErr):
		return stepErrorEnvelope(stepErr)
	case errors.Is(err, services.ErrMissingConfiguration):
		return httpx.NewError("missing_configuration", "Missing backend configuration", http.StatusInternalServerError)
	case errors.As(err, &svcErr):
		return typedErrorEnvelope(svcErr)
	case errors.Is(err, backend.ErrResponseTooLarge):
		return httpx.NewError("backend_response_too_large", "Backend response too large", http.StatusBadGateway)
	case errors.Is(err, backend.ErrBackendUnreachable):
		return httpx.NewError("backend_unreachable", "Backend unavailable", http.StatusInternalServerError)
	default:
		return httpx.NewError("internal", "Internal error", http.StatusInternalServerError)
	}
}

func typedErrorEnvelope(err *services.Error) httpx.Error {
	message := err.Message
	var out httpx.Error
	switch {
	case errors.Is(err, services.ErrValidation):
		out = httpx.NewError("invalid_request", message, http.StatusBadRequest)
	case errors.Is(err, services.ErrNotFound):
		out = httpx.NewError("not_found", message, http.StatusNotFound)
	case errors.Is(err, services.ErrBackendCallFailed):
		out = httpx.NewError("backend_error", message, http.StatusInternalServerError)
	default:
		out = httpx.NewError("internal", message, http.StatusInternalServerError)
	}
	if out.Message == "" {
		out.Message = http.StatusText(out.Status)
	}
	return out.WithDetails(err.Details)
}

// stepErrorEnvelope relays the backend status with its body under "details" and the raw
// exchange under "debug". Soft errors on a 200 answer become 400.
func stepErrorEnvelope(err *services.StepError) httpx.Error {
	status := err.Status()
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case status < http.StatusBadRequest:
		status = http.StatusInternalServerError
	}
	message := err.Message
	if message == "" {
		message = err.Step + " failed"
	}
	details := map[string]any{}
	if resp := err.Response; resp != nil {
		details["details"] = resp.Body
		details["debug"] = map[string]any{
			"request":  resp.Payload,
			"response": resp.Body,
			"status":   resp.Status,
		}
	}
	for k, v := range err.Details {
		details[k] = v
	}
	return httpx.NewError("backend_error", message, status).WithDetails(details)
}

func responseBody(resp *backend.Response) any {
	if resp == nil {
		return nil
	}
	return resp.Body
}
