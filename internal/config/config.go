package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
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
	StoreBackend       string
	Timezone           string
	CORSAllowedOrigins []string
	RateLimit          string
	LogFormat          string
	LogLevel           string

	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
	// SubscriptionGate enforces plan limits from token claims.
	SubscriptionGate bool

	CartTTL                time.Duration
	CartDefaultDiscountPct float64
	CartDefaultTaxPct      float64

	InvoiceStrictCounters bool
	InvoiceKeepDays       int
	InvoiceKeepMonths     int
	LockTTL               time.Duration
	LockRetryBackoff      time.Duration
	IdempotencyTTL        time.Duration

	QueueRedisPrefix  string
	QueueMaxAttempts  int
	QueueConcurrency  int
	QueueVisibility   time.Duration
	PrinterType       string
	PrinterAddress    string
	PrinterUSBPath    string
	PrinterTimeout    time.Duration
	JobsPruneCron     string
	OTelEndpoint      string
	OTelSamplingRatio float64

	MetricsNamespace    string
	CheckoutRateLimit   int
	CheckoutRateWindow  time.Duration
	BulkRateLimit       int
	BulkRateWindow      time.Duration
	BodyLimitBytes      int64
	UploadLimitBytes    int64
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	ReportsCacheTTL    time.Duration
	ReportsDefaultDays int

	AuditEnabled      bool
	AuditSamplingRate float64

	WebhookURLs    []string
	WebhookSecret  string
	WebhookTopics  []string
	WebhookTimeout time.Duration

	HealthTimeout   time.Duration
	ShutdownTimeout time.Duration
	PprofEnabled    bool
	PprofUser       string
	PprofPass       string
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
		StoreBackend:       strings.ToLower(valueOrDefault(k.String("STORE_BACKEND"), "redis")),
		Timezone:           valueOrDefault(k.String("TIMEZONE"), "Local"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "300-M"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),

		JWTSecret:        k.String("JWT_SECRET"),
		JWTIssuer:        valueOrDefault(k.String("JWT_ISSUER"), "backend-kasir"),
		JWTAudience:      valueOrDefault(k.String("JWT_AUDIENCE"), "kasir-app"),
		AccessTokenTTL:   parseDuration(k.String("ACCESS_TOKEN_TTL"), "12h"),
		SubscriptionGate: parseBoolDefault(k.String("SUBSCRIPTION_GATE"), true),

		CartTTL:                parseDuration(k.String("CART_TTL"), "24h"),
		CartDefaultDiscountPct: parseFloat(k.String("CART_DEFAULT_DISCOUNT_PCT"), 2),
		CartDefaultTaxPct:      parseFloat(k.String("CART_DEFAULT_TAX_PCT"), 7),

		InvoiceStrictCounters: parseBoolDefault(k.String("INVOICE_STRICT_COUNTERS"), true),
		InvoiceKeepDays:       parseInt(k.String("INVOICE_KEEP_DAYS"), 90),
		InvoiceKeepMonths:     parseInt(k.String("INVOICE_KEEP_MONTHS"), 24),
		LockTTL:               parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff:      parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		QueueRedisPrefix:  valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "kasir"),
		QueueMaxAttempts:  parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),
		QueueConcurrency:  parseInt(k.String("QUEUE_CONCURRENCY"), 2),
		QueueVisibility:   parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		PrinterType:       strings.ToLower(valueOrDefault(k.String("PRINTER_TYPE"), "none")),
		PrinterAddress:    strings.TrimSpace(k.String("PRINTER_ADDRESS")),
		PrinterUSBPath:    strings.TrimSpace(k.String("PRINTER_USB_PATH")),
		PrinterTimeout:    parseDuration(k.String("PRINTER_TIMEOUT"), "5s"),
		JobsPruneCron:     valueOrDefault(k.String("JOBS_PRUNE_CRON"), "15 0 * * *"),
		OTelEndpoint:      strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelSamplingRatio: parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),

		MetricsNamespace:    valueOrDefault(k.String("METRICS_NAMESPACE"), "kasir"),
		CheckoutRateLimit:   parseInt(k.String("CHECKOUT_RATE_LIMIT"), 30),
		CheckoutRateWindow:  parseDuration(k.String("CHECKOUT_RATE_WINDOW"), "1m"),
		BulkRateLimit:       parseInt(k.String("BULK_RATE_LIMIT"), 10),
		BulkRateWindow:      parseDuration(k.String("BULK_RATE_WINDOW"), "1m"),
		BodyLimitBytes:      int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		UploadLimitBytes:    int64(parseInt(k.String("UPLOAD_LIMIT_BYTES"), 5<<20)),
		BreakerMinRequests:  parseInt(k.String("PRINTER_BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("PRINTER_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("PRINTER_BREAKER_OPEN_FOR"), "30s"),

		ReportsCacheTTL:    parseDuration(k.String("REPORTS_CACHE_TTL"), "5m"),
		ReportsDefaultDays: parseInt(k.String("REPORTS_DEFAULT_DAYS"), 30),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		WebhookURLs:    splitAndTrim(k.String("WEBHOOK_URLS")),
		WebhookSecret:  strings.TrimSpace(k.String("WEBHOOK_SECRET")),
		WebhookTopics:  splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout: parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),

		HealthTimeout:   parseDuration(k.String("HEALTH_READY_TIMEOUT"), "500ms"),
		ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		PprofEnabled:    parseBoolDefault(k.String("PPROF_ENABLED"), false),
		PprofUser:       strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:       strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	switch cfg.StoreBackend {
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", cfg.StoreBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.PrinterType {
	case "none", "network", "usb":
	default:
		return nil, fmt.Errorf("PRINTER_TYPE must be none, network or usb, got %q", cfg.PrinterType)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
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

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
