package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Processor credentials and endpoint selection.
	PayoutClientID     string
	PayoutClientSecret string
	PayoutSandbox      bool
	// PayoutBaseURL overrides the endpoint derived from PayoutSandbox. Mostly
	// for pointing at a local stub.
	PayoutBaseURL string

	HTTPTimeout        time.Duration
	PaymentMethodID    string
	CheckoutLocale     string
	SendIdempotencyKey bool
	SweepDelay         time.Duration
	WebhookReplayTTL   time.Duration
	RateLimit          string

	TracingEndpoint string
	TracingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PayoutClientID:     k.String("PAYOUT_CLIENT_ID"),
		PayoutClientSecret: k.String("PAYOUT_CLIENT_SECRET"),
		PayoutSandbox:      parseBool(k.String("PAYOUT_SANDBOX")),
		PayoutBaseURL:      strings.TrimSpace(k.String("PAYOUT_BASE_URL")),
		HTTPTimeout:        parseDuration(k.String("HTTP_TIMEOUT"), "30s"),
		PaymentMethodID:    strings.TrimSpace(k.String("PAYMENT_METHOD_ID")),
		CheckoutLocale:     strings.TrimSpace(k.String("CHECKOUT_LOCALE")),
		SendIdempotencyKey: parseBool(k.String("SEND_IDEMPOTENCY_KEY")),
		SweepDelay:         parseDuration(k.String("SWEEP_DELAY"), "30m"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
		TracingEndpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TracingRatio:       k.Float64("OTEL_TRACES_SAMPLER_RATIO"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PayoutClientID == "" {
		return nil, errors.New("PAYOUT_CLIENT_ID is required")
	}
	if cfg.PayoutClientSecret == "" {
		return nil, errors.New("PAYOUT_CLIENT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
