package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultCarrierTimeout  = 10 * time.Second
	defaultConcurrency     = 8
	defaultBatchLimit      = 500
	defaultLockTTL         = 2 * time.Minute
	defaultIdempotencyKey  = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultEventsBackend   = EventsBackendNone
	defaultLockBackend     = LockBackendMemory
	defaultOrderEventTopic = "order-events"
)

// Lock backends for the reconciler's per-line mutual exclusion.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Event publisher backends.
const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Config is the full runtime configuration of the storefront binaries.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Carrier     CarrierConfig
	Pricing     PricingConfig
	Reconciler  ReconcilerConfig
	Redis       RedisConfig
	Events      EventsConfig
	Metrics     MetricsConfig
	Idempotency IdempotencyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig selects the document store project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// CarrierConfig points at the carrier tracking API. Token may be a secret:// reference.
type CarrierConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// PricingConfig carries platform-wide pricing knobs.
type PricingConfig struct {
	ExtraDiscountPct decimal.Decimal
}

// ReconcilerConfig bounds carrier reconciliation.
type ReconcilerConfig struct {
	Concurrency int
	BatchLimit  int
	LockBackend string
	LockTTL     time.Duration
}

// RedisConfig locates the Redis instance backing distributed locks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// IdempotencyConfig controls replay protection on order placement.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver turns secret:// references into values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load reads configuration with precedence defaults < .env < process env < explicit map, then
// resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotEnv[key]
		return v, ok
	}

	var invalid []string
	extraPct, err := decimalWithDefault(lookup, "STOREFRONT_PRICING_EXTRA_DISCOUNT_PCT", decimal.Zero)
	if err != nil {
		invalid = append(invalid, "Pricing.ExtraDiscountPct")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Carrier: CarrierConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_CARRIER_BASE_URL", ""), "/"),
			Token:   stringWithDefault(lookup, "STOREFRONT_CARRIER_TOKEN", ""),
			Timeout: durationWithDefault(lookup, "STOREFRONT_CARRIER_TIMEOUT", defaultCarrierTimeout),
		},
		Pricing: PricingConfig{
			ExtraDiscountPct: extraPct,
		},
		Reconciler: ReconcilerConfig{
			Concurrency: intWithDefault(lookup, "STOREFRONT_RECONCILER_CONCURRENCY", defaultConcurrency),
			BatchLimit:  intWithDefault(lookup, "STOREFRONT_RECONCILER_BATCH_LIMIT", defaultBatchLimit),
			LockBackend: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_RECONCILER_LOCK_BACKEND", defaultLockBackend)),
			LockTTL:     durationWithDefault(lookup, "STOREFRONT_RECONCILER_LOCK_TTL", defaultLockTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "STOREFRONT_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubTopic:  stringWithDefault(lookup, "STOREFRONT_EVENTS_PUBSUB_TOPIC", defaultOrderEventTopic),
			KafkaBrokers: csv(lookup, "STOREFRONT_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "STOREFRONT_EVENTS_KAFKA_TOPIC", defaultOrderEventTopic),
		},
		Metrics: MetricsConfig{
			Enabled: boolWithDefault(lookup, "STOREFRONT_METRICS_ENABLED", true),
			Path:    stringWithDefault(lookup, "STOREFRONT_METRICS_PATH", "/metrics"),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", defaultIdempotencyKey),
			TTL:    durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	secretFields := []*string{&cfg.Carrier.Token, &cfg.Redis.Password}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validate(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)
	if cfg.Server.Port == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		fields = append(fields, "Firestore.ProjectID")
	}
	if cfg.Carrier.BaseURL == "" {
		fields = append(fields, "Carrier.BaseURL")
	}
	if cfg.Carrier.Timeout <= 0 {
		fields = append(fields, "Carrier.Timeout")
	}
	if cfg.Pricing.ExtraDiscountPct.IsNegative() || cfg.Pricing.ExtraDiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		fields = append(fields, "Pricing.ExtraDiscountPct")
	}
	if cfg.Reconciler.Concurrency <= 0 {
		fields = append(fields, "Reconciler.Concurrency")
	}
	if cfg.Reconciler.BatchLimit <= 0 {
		fields = append(fields, "Reconciler.BatchLimit")
	}
	switch cfg.Reconciler.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if cfg.Redis.Addr == "" {
			fields = append(fields, "Redis.Addr")
		}
		if cfg.Reconciler.LockTTL <= 0 {
			fields = append(fields, "Reconciler.LockTTL")
		}
	default:
		fields = append(fields, "Reconciler.LockBackend")
	}
	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		if cfg.Events.PubSubTopic == "" {
			fields = append(fields, "Events.PubSubTopic")
		}
	case EventsBackendKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			fields = append(fields, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			fields = append(fields, "Events.KafkaTopic")
		}
	default:
		fields = append(fields, "Events.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		fields = append(fields, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		fields = append(fields, "Idempotency.TTL")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func boolWithDefault(lookup lookupFunc, key string, fallback bool) bool {
	v, ok := lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func decimalWithDefault(lookup lookupFunc, key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return decimal.NewFromString(strings.TrimSpace(v))
}

func csv(lookup lookupFunc, key string) []string {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
