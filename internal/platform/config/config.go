package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "3000"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 60 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 45 * time.Second
	defaultBackendTimeout      = 30 * time.Second
	defaultSecurityEnvironment = "local"
	defaultCustomerNumber      = "1"
	defaultCardholderName      = "Oliver Brito"
	defaultPAResponseURL       = "https://localhost:3443/checkout.html"
	defaultConfirmationPath    = "/viewOrder.html"
	defaultGatewayEnvironment  = "test"
	defaultGatewayClientKey    = "test_7REK4YQWRZB2DPRS7RNTFTGX2MPKY4SQ"
	defaultGatewayCountry      = "US"
	defaultGatewayCurrency     = "USD"
	defaultSessionCookie       = "tg_session"
	defaultSessionTTL          = 12 * time.Hour
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultLoginAttempts       = 10
	defaultLoginWindow         = time.Minute

	// SessionModePerBrowser isolates one backend session per browser cookie.
	SessionModePerBrowser = "per_browser"
	// SessionModeShared pins every request to a single process-wide backend session.
	SessionModeShared = "shared"

	// StoreMemory keeps sessions and idempotency records in process.
	StoreMemory = "memory"
	// StoreFirestore persists them in Firestore.
	StoreFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Checkout    CheckoutConfig
	Gateway     GatewayConfig
	Session     SessionConfig
	Firestore   FirestoreConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// BackendConfig points at the order backend and the service account used to log in.
type BackendConfig struct {
	BaseURL  string
	UserID   string
	Password string
	Timeout  time.Duration
	Paths    BackendPaths
}

// BackendPaths lists the backend endpoints relative to BaseURL.
type BackendPaths struct {
	Auth          string
	Upcoming      string
	Map           string
	Performance   string
	Order         string
	Customer      string
	PaymentMethod string
	User          string
}

// CheckoutConfig holds defaults applied by the order pipeline when the request omits them.
type CheckoutConfig struct {
	CustomerNumber   string
	CardholderName   string
	DeliveryMethodID string
	PAResponseURL    string
	SwipeIndicator   bool
	ConfirmationPath string
}

// GatewayConfig is the client configuration served when the backend cannot provide one.
type GatewayConfig struct {
	Environment string
	ClientKey   string
	CountryCode string
	Currency    string
}

// SessionConfig controls how browser sessions map onto backend sessions.
type SessionConfig struct {
	Mode          string
	CookieName    string
	CookieSecure  bool
	SigningSecret string
	SealingSecret string
	TTL           time.Duration
	Store         string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// EventsConfig selects the Pub/Sub topic for checkout events. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string
	TopicID   string
}

// SecurityConfig groups environment-specific security settings.
type SecurityConfig struct {
	Environment string
	// GatewayOrigins are added to the Content-Security-Policy so the payment widget can load.
	GatewayOrigins []string
	// LoginAttempts per client address within LoginWindow; zero disables the limit.
	LoginAttempts int
	LoginWindow   time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Backend.Password" or "Session.SigningSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups. Legacy variable names used by
// earlier deployments (API_BASE, UNL_USER, ORDER_PATH, ...) are honoured when the API_ prefixed
// name is unset.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}
	legacy := func(key, legacyKey, fallback string) string {
		return stringWithDefault(lookup, key, stringWithDefault(lookup, legacyKey, fallback))
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           legacy("API_SERVER_PORT", "PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Backend: BackendConfig{
			BaseURL:  legacy("API_BACKEND_BASE_URL", "API_BASE", ""),
			UserID:   legacy("API_BACKEND_USER", "UNL_USER", ""),
			Password: legacy("API_BACKEND_PASSWORD", "UNL_PASSWORD", ""),
			Timeout:  durationWithDefault(lookup, "API_BACKEND_TIMEOUT", defaultBackendTimeout),
			Paths: BackendPaths{
				Auth:          legacy("API_BACKEND_AUTH_PATH", "AUTH_PATH", "/app/WebAPI/v2/session/authenticateUser"),
				Upcoming:      legacy("API_BACKEND_UPCOMING_PATH", "UPCOMING_PATH", "/app/WebAPI/v2/content"),
				Map:           legacy("API_BACKEND_MAP_PATH", "MAP_PATH", "/app/WebAPI/v2/map"),
				Performance:   legacy("API_BACKEND_PERFORMANCE_PATH", "PERFORMANCE_PATH", "/app/WebAPI/v2/performance"),
				Order:         legacy("API_BACKEND_ORDER_PATH", "ORDER_PATH", "/app/WebAPI/v2/order"),
				Customer:      legacy("API_BACKEND_CUSTOMER_PATH", "CUSTOMER_PATH", "/app/WebAPI/v2/customer"),
				PaymentMethod: legacy("API_BACKEND_PAYMENT_METHOD_PATH", "PAYMENT_METHOD_PATH", "/app/WebAPI/v2/paymentMethod"),
				User:          legacy("API_BACKEND_USER_PATH", "USER_PATH", "/app/WebAPI/v2/user"),
			},
		},
		Checkout: CheckoutConfig{
			CustomerNumber:   stringWithDefault(lookup, "API_CHECKOUT_CUSTOMER_NUMBER", defaultCustomerNumber),
			CardholderName:   stringWithDefault(lookup, "API_CHECKOUT_CARDHOLDER_NAME", defaultCardholderName),
			DeliveryMethodID: stringWithDefault(lookup, "API_CHECKOUT_DELIVERY_METHOD_ID", ""),
			PAResponseURL:    stringWithDefault(lookup, "API_CHECKOUT_PA_RESPONSE_URL", defaultPAResponseURL),
			SwipeIndicator:   boolWithDefault(lookup, "API_CHECKOUT_SWIPE_INDICATOR", false),
			ConfirmationPath: stringWithDefault(lookup, "API_CHECKOUT_CONFIRMATION_PATH", defaultConfirmationPath),
		},
		Gateway: GatewayConfig{
			Environment: stringWithDefault(lookup, "API_GATEWAY_ENVIRONMENT", defaultGatewayEnvironment),
			ClientKey:   stringWithDefault(lookup, "API_GATEWAY_CLIENT_KEY", defaultGatewayClientKey),
			CountryCode: stringWithDefault(lookup, "API_GATEWAY_COUNTRY_CODE", defaultGatewayCountry),
			Currency:    stringWithDefault(lookup, "API_GATEWAY_CURRENCY", defaultGatewayCurrency),
		},
		Session: SessionConfig{
			Mode:          strings.ToLower(stringWithDefault(lookup, "API_SESSION_MODE", SessionModePerBrowser)),
			CookieName:    stringWithDefault(lookup, "API_SESSION_COOKIE_NAME", defaultSessionCookie),
			CookieSecure:  boolWithDefault(lookup, "API_SESSION_COOKIE_SECURE", true),
			SigningSecret: stringWithDefault(lookup, "API_SESSION_SIGNING_SECRET", ""),
			SealingSecret: stringWithDefault(lookup, "API_SESSION_SEALING_SECRET", ""),
			TTL:           durationWithDefault(lookup, "API_SESSION_TTL", defaultSessionTTL),
			Store:         strings.ToLower(stringWithDefault(lookup, "API_SESSION_STORE", StoreMemory)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			TopicID:   stringWithDefault(lookup, "API_EVENTS_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment:    strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			GatewayOrigins: csvWithDefault(lookup, "API_SECURITY_GATEWAY_ORIGINS"),
			LoginAttempts:  intWithDefault(lookup, "API_SECURITY_LOGIN_ATTEMPTS", defaultLoginAttempts),
			LoginWindow:    durationWithDefault(lookup, "API_SECURITY_LOGIN_WINDOW", defaultLoginWindow),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if len(cfg.Security.GatewayOrigins) == 0 {
		cfg.Security.GatewayOrigins = []string{"https://checkoutshopper-test.adyen.com", "https://checkoutshopper-live.adyen.com"}
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	// Plain HTTP local development cannot set Secure cookies.
	if cfg.Security.Environment == defaultSecurityEnvironment {
		if _, ok := lookup("API_SESSION_COOKIE_SECURE"); !ok {
			cfg.Session.CookieSecure = false
		}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Backend.Password", &cfg.Backend.Password},
		{"Session.SigningSecret", &cfg.Session.SigningSecret},
		{"Session.SealingSecret", &cfg.Session.SealingSecret},
		{"Gateway.ClientKey", &cfg.Gateway.ClientKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

// BackendURL joins a backend path onto BaseURL. Absolute paths are returned unchanged.
func (c BackendConfig) BackendURL(path string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("config: invalid backend base url %q", c.BaseURL)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("config: invalid backend path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if base := strings.TrimSpace(cfg.Backend.BaseURL); base != "" {
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			missing = append(missing, "Backend.BaseURL")
		}
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	switch cfg.Session.Mode {
	case SessionModePerBrowser:
		if len(strings.TrimSpace(cfg.Session.SigningSecret)) < 32 && cfg.Security.Environment != defaultSecurityEnvironment {
			missing = append(missing, "Session.SigningSecret")
		}
	case SessionModeShared:
	default:
		missing = append(missing, "Session.Mode")
	}
	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.CookieName")
	}
	switch cfg.Session.Store {
	case StoreMemory:
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if strings.TrimSpace(cfg.Session.SealingSecret) == "" {
			missing = append(missing, "Session.SealingSecret")
		}
	default:
		missing = append(missing, "Session.Store")
	}
	if cfg.Events.TopicID != "" && cfg.Events.ProjectID == "" {
		missing = append(missing, "Events.ProjectID")
	}
	if cfg.Security.LoginAttempts < 0 || (cfg.Security.LoginAttempts > 0 && cfg.Security.LoginWindow <= 0) {
		missing = append(missing, "Security.LoginWindow")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
