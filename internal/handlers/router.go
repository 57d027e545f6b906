package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ticketgate/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	timeout            time.Duration
	middlewares        []func(http.Handler) http.Handler
	sessionMiddlewares []func(http.Handler) http.Handler
	idempotency        func(http.Handler) http.Handler
	health             *HealthHandlers

	session    RouteRegistrar
	catalog    RouteRegistrar
	checkout   RouteRegistrar
	payments   RouteRegistrar
	completion RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router. Probes sit outside the session group so they never
// issue browser session cookies; order mutations additionally pass through idempotency handling.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.middlewares = append([]func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Timeout(cfg.timeout),
	}, cfg.middlewares...)
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Group(func(app chi.Router) {
		for _, mw := range cfg.sessionMiddlewares {
			if mw != nil {
				app.Use(mw)
			}
		}
		register(app, cfg.session)
		register(app, cfg.catalog)
		register(app, cfg.payments)

		app.Group(func(mutations chi.Router) {
			if cfg.idempotency != nil {
				mutations.Use(cfg.idempotency)
			}
			register(mutations, cfg.checkout)
			register(mutations, cfg.completion)
		})
	})

	return r
}

func register(r chi.Router, registrar RouteRegistrar) {
	if registrar != nil {
		registrar(r)
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithSessionMiddlewares configures middleware applied to every route except the probes,
// typically the browser session resolver and request logging.
func WithSessionMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.sessionMiddlewares = append(cfg.sessionMiddlewares, mw...)
	}
}

// WithIdempotency wraps the checkout and payment completion routes.
func WithIdempotency(mw func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.idempotency = mw
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithSessionRoutes configures the registrar for login, logout and session status.
func WithSessionRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.session = reg
	}
}

// WithCatalogRoutes configures the registrar for event, seat and order read endpoints.
func WithCatalogRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.catalog = reg
	}
}

// WithCheckoutRoutes configures the registrar for the checkout pipeline.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithPaymentRoutes configures the registrar for payment lookups.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.payments = reg
	}
}

// WithCompletionRoutes configures the registrar for order finalization endpoints.
func WithCompletionRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.completion = reg
	}
}
