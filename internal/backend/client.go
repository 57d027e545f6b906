package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/ticketgate/api/internal/backend"
	defaultTimeout      = 30 * time.Second
	maxResponseBytes    = 8 << 20
)

var (
	// ErrBackendUnreachable wraps network level failures (DNS, refused connections, timeouts).
	ErrBackendUnreachable = errors.New("backend: unreachable")
	// ErrMissingConfiguration is returned when the base URL or endpoint path is not configured.
	ErrMissingConfiguration = errors.New("backend: missing configuration")
	// ErrResponseTooLarge is returned when a response body exceeds the client's size limit.
	ErrResponseTooLarge = errors.New("backend: response body too large")
)

// Session supplies the credentials for a call and absorbs cookies the backend hands back.
type Session interface {
	Token() string
	Cookies() string
	BaseURL() string
	AbsorbCookies(ctx context.Context, pairs []string) error
}

// Client posts JSON envelopes to the backend on behalf of a session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	noFollow   *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
	latency    metric.Float64Histogram
	maxBody    int64
}

// ClientOption customises Client construction.
type ClientOption func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	meter      metric.Meter
	tracer     trace.Tracer
	maxBody    int64
}

// WithHTTPClient overrides the HTTP client used for backend calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(meter metric.Meter) ClientOption {
	return func(cfg *clientConfig) {
		cfg.meter = meter
	}
}

// WithTracer injects a custom OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracer = tracer
	}
}

// WithMaxResponseBytes caps how much of a response body is read. Larger bodies fail with
// ErrResponseTooLarge.
func WithMaxResponseBytes(limit int64) ClientOption {
	return func(cfg *clientConfig) {
		if limit > 0 {
			cfg.maxBody = limit
		}
	}
}

// NewClient builds a backend client rooted at baseURL. An empty base URL is accepted so the
// process can start; calls then fail with ErrMissingConfiguration unless the session carries one.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	cfg := clientConfig{timeout: defaultTimeout, maxBody: maxResponseBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}
	noFollow := *httpClient
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	latency, err := cfg.meter.Float64Histogram(
		"backend.call.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of calls to the order backend"),
	)
	if err != nil {
		cfg.logger.Warn("backend: unable to register latency metric", zap.Error(err))
	}

	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		noFollow:   &noFollow,
		logger:     cfg.logger,
		tracer:     cfg.tracer,
		latency:    latency,
		maxBody:    cfg.maxBody,
	}
}

// CallOption tweaks a single call.
type CallOption func(*callOptions)

type callOptions struct {
	followRedirects bool
}

// WithoutRedirects returns 3xx responses to the caller instead of following them.
func WithoutRedirects() CallOption {
	return func(o *callOptions) {
		o.followRedirects = false
	}
}

// Send posts payload to baseURL+path with the session's token and cookie jar. Set-Cookie headers
// on the response are merged into the session before Send returns. Non-2xx responses are
// returned without error; only transport failures are reported as ErrBackendUnreachable.
func (c *Client) Send(ctx context.Context, sess Session, path string, payload any, opts ...CallOption) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: client not initialised", ErrMissingConfiguration)
	}
	options := callOptions{followRedirects: true}
	for _, opt := range opts {
		opt(&options)
	}

	base := c.baseURL
	if sess != nil {
		if override := strings.TrimRight(strings.TrimSpace(sess.BaseURL()), "/"); override != "" {
			base = override
		}
	}
	path = strings.TrimSpace(path)
	if base == "" {
		return nil, fmt.Errorf("%w: base url", ErrMissingConfiguration)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: endpoint path", ErrMissingConfiguration)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backend: encode payload: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "backend POST "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("backend.path", path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if sess != nil {
		if token := sess.Token(); token != "" {
			req.Header.Set("Session", token)
		}
		if jar := CookieHeader(sess.Cookies()); jar != "" {
			req.Header.Set("Cookie", jar)
		}
	}

	client := c.httpClient
	if !options.followRedirects {
		client = c.noFollow
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.record(ctx, path, 0, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Warn("backend call failed",
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnreachable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.record(ctx, path, resp.StatusCode, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("%w: read %s: %v", ErrBackendUnreachable, path, err)
	}
	if int64(len(raw)) > c.maxBody {
		c.record(ctx, path, resp.StatusCode, start)
		span.SetStatus(codes.Error, "response too large")
		c.logger.Warn("backend response exceeds size limit",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Int64("limit", c.maxBody),
		)
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, path, c.maxBody)
	}
	c.record(ctx, path, resp.StatusCode, start)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	if sess != nil {
		if pairs := ParseSetCookie(SetCookieHeader(resp.Header)); len(pairs) > 0 {
			if err := sess.AbsorbCookies(ctx, pairs); err != nil {
				c.logger.Warn("backend: failed to persist cookies",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}

	c.logger.Debug("backend call completed",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	return &Response{
		Status:  resp.StatusCode,
		Header:  resp.Header.Clone(),
		Raw:     raw,
		Body:    ParseBody(raw),
		Path:    path,
		Payload: redactPayload(payload),
	}, nil
}

func (c *Client) record(ctx context.Context, path string, status int, start time.Time) {
	if c.latency == nil {
		return
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	c.latency.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

// redactPayload keeps credentials out of debug metadata echoed to clients.
func redactPayload(payload any) any {
	switch p := payload.(type) {
	case Credentials:
		return Credentials{UserID: p.UserID, Password: "***"}
	case *Credentials:
		if p == nil {
			return nil
		}
		return Credentials{UserID: p.UserID, Password: "***"}
	}
	return payload
}
