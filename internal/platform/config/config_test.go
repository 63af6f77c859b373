package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "storefront-dev",
		"STOREFRONT_CARRIER_BASE_URL":     "https://carrier.example.com/",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Carrier.BaseURL != "https://carrier.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Carrier.BaseURL)
	}
	if cfg.Carrier.Timeout != defaultCarrierTimeout {
		t.Errorf("unexpected carrier timeout: %s", cfg.Carrier.Timeout)
	}
	if !cfg.Pricing.ExtraDiscountPct.IsZero() {
		t.Errorf("expected zero extra discount, got %s", cfg.Pricing.ExtraDiscountPct)
	}
	if cfg.Reconciler.LockBackend != LockBackendMemory || cfg.Reconciler.Concurrency != defaultConcurrency {
		t.Errorf("unexpected reconciler defaults: %+v", cfg.Reconciler)
	}
	if cfg.Events.Backend != EventsBackendNone {
		t.Errorf("expected events disabled by default, got %s", cfg.Events.Backend)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Idempotency.Header != defaultIdempotencyKey || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	for k, v := range map[string]string{
		"STOREFRONT_SERVER_PORT":                "9090",
		"STOREFRONT_CARRIER_TOKEN":              "sm://carrier/token",
		"STOREFRONT_CARRIER_TIMEOUT":            "3s",
		"STOREFRONT_PRICING_EXTRA_DISCOUNT_PCT": "5.5",
		"STOREFRONT_RECONCILER_CONCURRENCY":     "16",
		"STOREFRONT_RECONCILER_LOCK_BACKEND":    "Redis",
		"STOREFRONT_RECONCILER_LOCK_TTL":        "90s",
		"STOREFRONT_REDIS_ADDR":                 "localhost:6379",
		"STOREFRONT_REDIS_PASSWORD":             "secret://redis/password",
		"STOREFRONT_EVENTS_BACKEND":             "kafka",
		"STOREFRONT_EVENTS_KAFKA_BROKERS":       "k1:9092, k2:9092",
		"STOREFRONT_METRICS_ENABLED":            "off",
	} {
		env[k] = v
	}
	secrets := map[string]string{
		"secret://carrier/token":  "carrier-token",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Carrier.Token != "carrier-token" || cfg.Redis.Password != "redis-pass" {
		t.Errorf("expected secrets to resolve, got %q / %q", cfg.Carrier.Token, cfg.Redis.Password)
	}
	if cfg.Carrier.Timeout != 3*time.Second {
		t.Errorf("unexpected carrier timeout %s", cfg.Carrier.Timeout)
	}
	if cfg.Pricing.ExtraDiscountPct.String() != "5.5" {
		t.Errorf("unexpected extra discount %s", cfg.Pricing.ExtraDiscountPct)
	}
	if cfg.Reconciler.LockBackend != LockBackendRedis || cfg.Reconciler.LockTTL != 90*time.Second || cfg.Reconciler.Concurrency != 16 {
		t.Errorf("unexpected reconciler config %+v", cfg.Reconciler)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected kafka brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Metrics.Enabled {
		t.Errorf("expected metrics disabled")
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_CARRIER_TOKEN"] = "secret://carrier/token"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://carrier/token" || !errors.Is(err, errNoSecretResolver) {
		t.Fatalf("unexpected secret error %+v", secretErr)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_PRICING_EXTRA_DISCOUNT_PCT": "150",
		"STOREFRONT_RECONCILER_LOCK_BACKEND":    "redis",
		"STOREFRONT_EVENTS_BACKEND":             "carrier-pigeon",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Firestore.ProjectID":      true,
		"Carrier.BaseURL":          true,
		"Pricing.ExtraDiscountPct": true,
		"Redis.Addr":               true,
		"Events.Backend":           true,
	}
	got := validationErr.Fields()
	if len(got) != len(want) {
		t.Fatalf("expected %d fields, got %v", len(want), got)
	}
	for _, field := range got {
		if !want[field] {
			t.Fatalf("unexpected field %s in %v", field, got)
		}
	}
}

func TestLoadRejectsMalformedDecimal(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_PRICING_EXTRA_DISCOUNT_PCT"] = "five"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := validationErr.Fields(); len(fields) != 1 || fields[0] != "Pricing.ExtraDiscountPct" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadFromDotEnvWithPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\n" +
		"export STOREFRONT_FIRESTORE_PROJECT_ID=from-dotenv\n" +
		"STOREFRONT_CARRIER_BASE_URL=\"https://dotenv.example.com\"\n" +
		"STOREFRONT_SERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STOREFRONT_SERVER_PORT": "7100"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "from-dotenv" {
		t.Errorf("expected dotenv project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Carrier.BaseURL != "https://dotenv.example.com" {
		t.Errorf("expected quotes stripped, got %s", cfg.Carrier.BaseURL)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
}
