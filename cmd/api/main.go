package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/handlers"
	"github.com/ticketgate/api/internal/payments"
	"github.com/ticketgate/api/internal/platform/auth"
	"github.com/ticketgate/api/internal/platform/config"
	pfirestore "github.com/ticketgate/api/internal/platform/firestore"
	"github.com/ticketgate/api/internal/platform/idempotency"
	"github.com/ticketgate/api/internal/platform/jobs"
	"github.com/ticketgate/api/internal/platform/observability"
	"github.com/ticketgate/api/internal/platform/sealing"
	"github.com/ticketgate/api/internal/platform/secrets"
	"github.com/ticketgate/api/internal/repositories"
	firestoreRepo "github.com/ticketgate/api/internal/repositories/firestore"
	"github.com/ticketgate/api/internal/services"
)

const localEnvironment = "local"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	endpoints := services.Endpoints(cfg.Backend.Paths)

	var probes []repositories.Probe
	probes = append(probes, repositories.Probe{
		Name:    "backend",
		Timeout: time.Second,
		Check: func(context.Context) error {
			_, err := cfg.Backend.BackendURL(endpoints.Order)
			return err
		},
	})

	var firestoreProvider *pfirestore.Provider
	if cfg.Session.Store == config.StoreFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		probes = append(probes, repositories.Probe{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   firestoreProvider.Ping,
		})
	}

	sessionRepo, err := newSessionRepository(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise session repository", zap.Error(err))
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if firestoreProvider != nil {
		store, err := idempotency.NewFirestoreStore(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = store
	}
	sweeper := idempotency.NewSweeper(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	sweeper.Start(ctx)

	var publisher services.CheckoutEventPublisher = jobs.NoopCheckoutPublisher{}
	if topicID := strings.TrimSpace(cfg.Events.TopicID); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		pubsubPublisher, err := jobs.NewPubSubCheckoutPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise checkout publisher", zap.Error(err))
		}
		defer pubsubPublisher.Stop()
		publisher = pubsubPublisher
		probes = append(probes, repositories.Probe{
			Name:     "pubsub",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicID)
				}
				return nil
			},
		})
	}

	probes = append(probes, repositories.Probe{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, "secret://api-healthz?version=latest")
			if err == nil || errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			if st, ok := status.FromError(errors.Unwrap(err)); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	})

	healthRepo, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	backendClient := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger.Named("backend")),
		backend.WithMeter(otel.Meter("github.com/ticketgate/api/internal/backend")),
		backend.WithTracer(otel.Tracer("github.com/ticketgate/api/internal/backend")),
	)

	gateway, err := payments.NewGatewayDefaults(cfg.Gateway.Environment, cfg.Gateway.ClientKey, cfg.Gateway.CountryCode, cfg.Gateway.Currency)
	if err != nil {
		logger.Fatal("invalid gateway defaults", zap.Error(err))
	}

	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Sessions:  sessionRepo,
		Backend:   backendClient,
		Endpoints: endpoints,
		UserID:    cfg.Backend.UserID,
		Password:  cfg.Backend.Password,
		Logger:    observability.EventLogger(logger, "session"),
	})
	if err != nil {
		logger.Fatal("failed to initialise session service", zap.Error(err))
	}
	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Sessions:  sessionRepo,
		Backend:   backendClient,
		Endpoints: endpoints,
		Logger:    observability.EventLogger(logger, "catalog"),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}
	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:  sessionRepo,
		Backend:   backendClient,
		Endpoints: endpoints,
		Defaults: services.CheckoutDefaults{
			CustomerNumber:   cfg.Checkout.CustomerNumber,
			CardholderName:   cfg.Checkout.CardholderName,
			DeliveryMethodID: cfg.Checkout.DeliveryMethodID,
			PAResponseURL:    cfg.Checkout.PAResponseURL,
			SwipeIndicator:   cfg.Checkout.SwipeIndicator,
		},
		Logger: observability.EventLogger(logger, "checkout"),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}
	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Sessions:         sessionRepo,
		Backend:          backendClient,
		Endpoints:        endpoints,
		Gateway:          gateway,
		ConfirmationPath: cfg.Checkout.ConfirmationPath,
		PAResponseURL:    cfg.Checkout.PAResponseURL,
		Publisher:        publisher,
		Logger:           observability.EventLogger(logger, "payments"),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	browserSessions, err := newBrowserSessions(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise browser sessions", zap.Error(err))
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	sessionHandlers := handlers.NewSessionHandlers(sessionService,
		handlers.WithSessionRotator(browserSessions),
		handlers.WithLoginRateLimit(cfg.Security.LoginAttempts, cfg.Security.LoginWindow, time.Now),
	)
	catalogHandlers := handlers.NewCatalogHandlers(catalogService)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService)
	paymentHandlers := handlers.NewPaymentHandlers(paymentService)

	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.SecurityHeadersMiddleware(cfg.Security.GatewayOrigins),
		),
		handlers.WithSessionMiddlewares(
			browserSessions.Middleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithIdempotency(idempotency.Middleware(
			idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(logger.Named("idempotency")),
		)),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithCompletionRoutes(paymentHandlers.CompletionRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("session_mode", cfg.Session.Mode),
		zap.String("session_store", cfg.Session.Store),
	)
	go func() {
		serverLogger.Info("ticketgate api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = localEnvironment
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSessionRepository(cfg config.Config, provider *pfirestore.Provider) (repositories.SessionRepository, error) {
	if cfg.Session.Store != config.StoreFirestore {
		return repositories.NewMemorySessionRepository(repositories.WithMemorySessionTTL(cfg.Session.TTL)), nil
	}
	sealer, err := sealing.NewSealer(cfg.Session.SealingSecret)
	if err != nil {
		return nil, err
	}
	return firestoreRepo.NewSessionRepository(provider, sealer, firestoreRepo.WithSessionTTL(cfg.Session.TTL))
}

func newBrowserSessions(cfg config.Config, logger *zap.Logger) (*auth.Sessions, error) {
	opts := []auth.Option{
		auth.WithCookieName(cfg.Session.CookieName),
		auth.WithSecureCookie(cfg.Session.CookieSecure),
		auth.WithTTL(cfg.Session.TTL),
		auth.WithMeter(otel.Meter("github.com/ticketgate/api/internal/platform/auth")),
	}
	if cfg.Session.Mode == config.SessionModeShared {
		opts = append(opts, auth.WithSharedMode())
	}
	secret := cfg.Session.SigningSecret
	if cfg.Session.Mode != config.SessionModeShared && len(strings.TrimSpace(secret)) < 32 && cfg.Security.Environment == localEnvironment {
		// Sessions do not survive a restart with an ephemeral key; fine for local development.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("session signing secret not configured; using an ephemeral key")
	}
	return auth.NewSessions(secret, opts...)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/ticketgate/api/internal/platform/secrets")),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a non-empty value for the
// configured environment.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == localEnvironment {
		return nil
	}
	required := []string{"Backend.Password"}
	mode := strings.ToLower(strings.TrimSpace(env["API_SESSION_MODE"]))
	if mode != config.SessionModeShared {
		required = append(required, "Session.SigningSecret")
	}
	if strings.ToLower(strings.TrimSpace(env["API_SESSION_STORE"])) == config.StoreFirestore {
		required = append(required, "Session.SealingSecret")
	}
	return required
}
