// Package app assembles the kasir services from configuration. Both the API
// and the worker build an App; each uses the parts it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/audit"
	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/customer"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/notify"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/reports"
	"github.com/noah-isme/backend-kasir/internal/resilience"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// App holds the shared infrastructure and the domain services built on it.
// Redis and the asynq client are nil with the memory store backend.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Location *time.Location
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry

	KV      kv.Store
	Locker  lock.Locker
	Tasks   queue.Submitter
	Inline  *queue.Inline
	Jobs    *asynq.Client
	Breaker *resilience.Breaker

	Tokens    *auth.Tokens
	Gate      subscription.Gate
	Settings  *settings.Store
	Invoices  *invoice.Generator
	Catalog   *catalog.Service
	Customers *customer.Service
	Carts     *cart.Service
	Bills     *billing.Service
	Receipts  *receipt.Service
	Reports   *reports.Service
	Audit     *audit.Service
	Webhooks  *notify.Dispatcher
	Events    *events.Bus
	EventLog  events.PGStore

	closers []func()
}

// New connects Postgres (and Redis with the redis backend) and wires every
// service. appName is reported to Postgres and used as the tracing service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Location: loc}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   appName,
		Endpoint:      cfg.OTelEndpoint,
		SamplingRatio: cfg.OTelSamplingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		a.onClose(func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		})
	}

	a.Registry = newRegistry(cfg.MetricsNamespace)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	a.DB, err = db.Connect(connectCtx, cfg.DatabaseURL, appName)
	if err != nil {
		return nil, err
	}
	a.onClose(a.DB.Close)

	if cfg.StoreBackend == "redis" {
		if err := a.connectRedis(connectCtx); err != nil {
			return nil, err
		}
	}

	if err := a.buildServices(); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func newRegistry(namespace string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs.MustRegisterDomainMetrics(namespace, reg)
	queue.MustRegisterMetrics(namespace, reg)
	resilience.MustRegisterMetrics(namespace, reg)
	return reg
}

func (a *App) connectRedis(ctx context.Context) error {
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("close redis")
		}
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		a.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		a.Logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = client

	jobsOpt, err := asynq.ParseRedisURI(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse asynq redis uri: %w", err)
	}
	a.Jobs = asynq.NewClient(jobsOpt)
	a.onClose(func() { _ = a.Jobs.Close() })
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config
	log := a.Logger

	if a.Redis != nil {
		a.KV = kv.Redis{R: a.Redis, Prefix: cfg.QueueRedisPrefix}
		a.Locker = lock.Redis{R: a.Redis, RetryBackoff: cfg.LockRetryBackoff}
	} else {
		a.KV = kv.NewMemory()
		a.Locker = &lock.Local{}
	}

	var err error
	a.Tokens, err = auth.NewTokens(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.AccessTokenTTL,
	})
	if err != nil {
		return err
	}
	a.Gate = subscription.Gate{Enabled: cfg.SubscriptionGate}
	a.Settings = settings.NewStore(a.KV, log.With().Str("component", "settings").Logger())

	a.Invoices, err = invoice.NewGenerator(invoice.Config{
		Store:    a.KV,
		Locker:   a.Locker,
		LockTTL:  cfg.LockTTL,
		Location: a.Location,
		Logger:   log.With().Str("component", "invoice").Logger(),
		Strict:   cfg.InvoiceStrictCounters,
	})
	if err != nil {
		return err
	}

	a.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Repo:   catalog.NewPG(a.DB),
		Gate:   a.Gate,
		Logger: log.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return err
	}
	a.Customers, err = customer.NewService(customer.ServiceConfig{
		Repo:   customer.NewPG(a.DB),
		Gate:   a.Gate,
		Logger: log.With().Str("component", "customer").Logger(),
	})
	if err != nil {
		return err
	}
	a.Carts, err = cart.NewService(cart.ServiceConfig{
		Store:   a.KV,
		Locker:  a.Locker,
		Items:   a.Catalog,
		TTL:     cfg.CartTTL,
		LockTTL: cfg.LockTTL,
		Defaults: cart.Defaults{
			Discount:      cfg.CartDefaultDiscountPct,
			TaxRate:       cfg.CartDefaultTaxPct,
			PaymentMethod: cart.PaymentCash,
		},
		Logger: log.With().Str("component", "cart").Logger(),
	})
	if err != nil {
		return err
	}

	printer, err := receipt.NewPrinter(receipt.PrinterConfig{
		Type:    cfg.PrinterType,
		Address: cfg.PrinterAddress,
		USBPath: cfg.PrinterUSBPath,
		Timeout: cfg.PrinterTimeout,
	})
	if err != nil {
		return err
	}
	a.Breaker = resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("printer").
		WithLogger(log)

	if a.Redis != nil {
		a.Tasks = queue.Enqueuer{
			R:           a.Redis,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		}
	} else {
		a.Inline = &queue.Inline{
			Logger:      log.With().Str("component", "queue").Logger(),
			MaxAttempts: cfg.QueueMaxAttempts,
		}
		a.Tasks = a.Inline
		a.onClose(a.Inline.Wait)
	}

	a.EventLog = events.PGStore{DB: a.DB}
	a.Events = &events.Bus{Store: a.EventLog}
	a.Bills, err = billing.NewService(billing.ServiceConfig{
		Repo:      billing.NewPG(a.DB),
		Carts:     a.Carts,
		Numbers:   a.Invoices,
		Settings:  a.Settings,
		Customers: a.Customers,
		Events:    a.Events,
		Gate:      a.Gate,
		Logger:    log.With().Str("component", "billing").Logger(),
	})
	if err != nil {
		return err
	}

	a.Receipts, err = receipt.NewService(receipt.ServiceConfig{
		Bills:       a.Bills,
		Settings:    a.Settings,
		Queue:       a.Tasks,
		Printer:     receipt.Guarded{Printer: printer, Breaker: a.Breaker},
		Gate:        a.Gate,
		Logger:      log.With().Str("component", "receipt").Logger(),
		Location:    a.Location,
		MaxAttempts: cfg.QueueMaxAttempts,
	})
	if err != nil {
		return err
	}
	endpoints, err := notify.ParseEndpoints(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookTopics)
	if err != nil {
		return err
	}
	a.Webhooks = &notify.Dispatcher{
		Endpoints:   endpoints,
		Queue:       a.Tasks,
		Client:      notify.HTTPClient(cfg.WebhookTimeout, false),
		MaxAttempts: cfg.QueueMaxAttempts,
		Sent:        a.KV,
		SentTTL:     cfg.IdempotencyTTL,
		Logger:      log.With().Str("component", "webhooks").Logger(),
	}
	if a.Inline != nil {
		a.Inline.Handler = queue.Mux{
			receipt.KindPrint:  a.Receipts.Handle,
			notify.KindWebhook: a.Webhooks.Handle,
		}.Handle
	}
	a.Reports = &reports.Service{
		Q:            reports.PG{DB: a.DB},
		Cache:        a.KV,
		TTL:          cfg.ReportsCacheTTL,
		DefaultRange: cfg.ReportsDefaultDays,
		Gate:         a.Gate,
		Location:     a.Location,
		Logger:       log.With().Str("component", "reports").Logger(),
	}
	a.Audit = &audit.Service{
		Store:        audit.NewPGStore(a.DB),
		Enabled:      cfg.AuditEnabled,
		SamplingRate: cfg.AuditSamplingRate,
	}
	// Bills created from here on are auto-printed when the setting is on.
	a.Events.Notifiers = append(a.Events.Notifiers, a.Receipts.AutoPrint())
	if a.Webhooks.Enabled() {
		a.Events.Notifiers = append(a.Events.Notifiers, a.Webhooks)
	}
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// RequireRedis reports whether the Redis backend is configured, for
// processes that cannot run without it.
func (a *App) RequireRedis() error {
	if a.Redis == nil {
		return errors.New("this process needs STORE_BACKEND=redis")
	}
	return nil
}
