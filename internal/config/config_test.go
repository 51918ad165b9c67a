package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost/kasir",
		"REDIS_URL":    "redis://localhost:6379/0",
		"JWT_SECRET":   "secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.StoreBackend)
	require.Equal(t, 24*time.Hour, cfg.CartTTL)
	require.Equal(t, 2.0, cfg.CartDefaultDiscountPct)
	require.Equal(t, 7.0, cfg.CartDefaultTaxPct)
	require.True(t, cfg.InvoiceStrictCounters)
	require.Equal(t, 90, cfg.InvoiceKeepDays)
	require.Equal(t, 24, cfg.InvoiceKeepMonths)
	require.Equal(t, 5, cfg.QueueMaxAttempts)
	require.Equal(t, "none", cfg.PrinterType)
	require.Equal(t, "15 0 * * *", cfg.JobsPruneCron)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 30, cfg.CheckoutRateLimit)
	require.Equal(t, time.Minute, cfg.CheckoutRateWindow)
	require.Equal(t, 10, cfg.BulkRateLimit)
	require.Equal(t, int64(1<<20), cfg.BodyLimitBytes)
	require.Equal(t, 30*time.Second, cfg.BreakerOpenFor)
	require.Equal(t, 500*time.Millisecond, cfg.HealthTimeout)
	require.False(t, cfg.PprofEnabled)
	require.Equal(t, 5*time.Minute, cfg.ReportsCacheTTL)
	require.Equal(t, 30, cfg.ReportsDefaultDays)
	require.True(t, cfg.AuditEnabled)
	require.InDelta(t, 1.0, cfg.AuditSamplingRate, 0.0001)
	require.Empty(t, cfg.WebhookURLs)
	require.Equal(t, 5*time.Second, cfg.WebhookTimeout)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["STORE_BACKEND"] = "memory"
	env["REDIS_URL"] = ""
	env["INVOICE_STRICT_COUNTERS"] = "false"
	env["CART_DEFAULT_TAX_PCT"] = "5"
	env["PRINTER_TYPE"] = "network"
	env["PRINTER_ADDRESS"] = "10.0.0.5"
	env["TIMEZONE"] = "Asia/Kolkata"
	env["PORT"] = ":9000"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.StoreBackend)
	require.False(t, cfg.InvoiceStrictCounters)
	require.Equal(t, 5.0, cfg.CartDefaultTaxPct)
	require.Equal(t, "10.0.0.5", cfg.PrinterAddress)
	require.Equal(t, ":9000", cfg.HTTPAddr())
	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoadValidation(t *testing.T) {
	for name, override := range map[string]map[string]string{
		"missing database": {"DATABASE_URL": ""},
		"missing redis":    {"REDIS_URL": ""},
		"missing secret":   {"JWT_SECRET": ""},
		"bad backend":      {"STORE_BACKEND": "sqlite"},
		"bad printer":      {"PRINTER_TYPE": "bluetooth"},
		"bad timezone":     {"TIMEZONE": "Mars/Olympus"},
	} {
		t.Run(name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range override {
				env[k] = v
			}
			_, err := config.LoadForTests(env)
			require.Error(t, err)
		})
	}
}
