package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ticketgate/api/internal/backend"
)

const (
	orderObject         = "myOrder"
	searchObject        = "mySearchResults"
	customerObject      = "myCustomer"
	paymentMethodObject = "myPaymentMethod"

	orderNumberKey = "Order::order_number"
)

type eventLogger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// caller wraps a BackendClient with path checks and call logging shared by every service.
type caller struct {
	client BackendClient
	logger eventLogger
	now    func() time.Time
}

// send posts payload to path. Transport failures are returned as errors; any HTTP status is a
// successful call.
func (c caller) send(ctx context.Context, sess backend.Session, step, path string, payload any, opts ...backend.CallOption) (*backend.Response, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: %s path", ErrMissingConfiguration, step)
	}
	start := c.now()
	resp, err := c.client.Send(ctx, sess, path, payload, opts...)
	if err != nil {
		c.logger(ctx, "backend_call_failed", map[string]any{
			"step":  step,
			"path":  path,
			"error": err.Error(),
		})
		return nil, translateBackendError(err)
	}
	fields := map[string]any{
		"step":       step,
		"status":     resp.Status,
		"durationMs": c.now().Sub(start).Milliseconds(),
	}
	if !resp.OK() {
		c.logger(ctx, "backend_step_failed", fields)
	} else {
		c.logger(ctx, "backend_step", fields)
	}
	return resp, nil
}

// sendOK is send followed by a status check that turns non-2xx responses into a StepError.
func (c caller) sendOK(ctx context.Context, sess backend.Session, step, message, path string, payload any, opts ...backend.CallOption) (*backend.Response, error) {
	resp, err := c.send(ctx, sess, step, path, payload, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, stepFailed(step, message, resp)
	}
	return resp, nil
}

func orderGet(get ...string) backend.Request {
	return backend.Request{Get: get, ObjectName: orderObject}
}

func orderAction(method string, params map[string]any, get ...string) backend.Request {
	return backend.Request{
		Actions:    []backend.Action{{Method: method, Params: params}},
		Get:        get,
		ObjectName: orderObject,
	}
}
