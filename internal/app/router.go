package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-kasir/internal/audit"
	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/customer"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/jobs"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/reports"
	"github.com/noah-isme/backend-kasir/internal/security"
	"github.com/noah-isme/backend-kasir/internal/settings"
)

// Router builds the HTTP surface. Everything under /api/v1 requires a
// register token while the subscription gate is on.
func (a *App) Router() (http.Handler, error) {
	cfg := a.Config
	log := a.Logger

	limiterStore, err := ratelimit.NewStore(a.Redis, cfg.QueueRedisPrefix+":limiter")
	if err != nil {
		return nil, err
	}
	global, err := ratelimit.NewGlobal(cfg.RateLimit, limiterStore, log)
	if err != nil {
		return nil, err
	}

	authMW := auth.Middleware{Tokens: a.Tokens}
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, a.Registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Tracing("kasir-api"))
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(authMW.Authenticate)
	r.Use(obs.RequestLogger{Logger: log}.Middleware)
	r.Use(security.Headers(cfg.AppEnv == "production"))
	r.Use(security.CORS(cfg.CORSAllowedOrigins))

	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	if cfg.PprofEnabled {
		r.Handle("/debug/pprof/*", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	checks := map[string]health.Check{"db": health.PostgresCheck(a.DB)}
	if a.Redis != nil {
		checks["redis"] = health.RedisCheck(a.Redis)
	}
	healthHandler := health.Handler{Checks: checks, Timeout: cfg.HealthTimeout}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	idem := common.Idem{R: a.Redis, TTL: cfg.IdempotencyTTL, Prefix: cfg.QueueRedisPrefix + ":idem"}
	checkoutLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: a.Redis, Prefix: cfg.QueueRedisPrefix + ":ratelimit:"},
		Window:  cfg.CheckoutRateWindow,
		Max:     cfg.CheckoutRateLimit,
		Logger:  log,
	}
	// The sliding window lives in Redis; without it only the global
	// budget applies to checkout.
	if a.Redis != nil {
		checkoutLimit.Key = ratelimit.ByRegister("checkout")
	}
	bulkLimit := ratelimit.Bulk(cfg.BulkRateLimit, cfg.BulkRateWindow)
	jsonLimit := security.BodyLimit{Max: cfg.BodyLimitBytes}
	uploadLimit := security.BodyLimit{Max: cfg.UploadLimitBytes}

	items := catalog.NewHandler(catalog.HandlerConfig{Service: a.Catalog})
	customers := customer.NewHandler(customer.HandlerConfig{Service: a.Customers})
	carts := &cart.Handler{Svc: a.Carts}
	bills := billing.NewHandler(billing.HandlerConfig{Service: a.Bills, Events: a.EventLog, Location: a.Location})
	receipts := receipt.NewHandler(a.Receipts)
	shop := settings.NewHandler(a.Settings)
	invoices := invoice.NewHandler(invoice.HandlerConfig{Generator: a.Invoices})
	report := &reports.Handler{Svc: a.Reports}
	recorder := audit.HTTPRecorder{Service: a.Audit, Logger: log.With().Str("component", "audit").Logger()}
	audited := func(action, resource, idParam string) func(http.Handler) http.Handler {
		return recorder.Middleware(audit.HTTPConfig{Action: action, Resource: resource, ResourceIDParam: idParam})
	}
	me := auth.Handler{}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(global.Middleware)
		if cfg.SubscriptionGate {
			v.Use(authMW.RequireAuth)
		}
		v.With(authMW.RequireAuth).Get("/me", me.Me)

		// CSV imports get the larger upload budget.
		v.With(bulkLimit, uploadLimit.Middleware, idem.Middleware, audited("customer.import", "customers", "")).Post("/customers/import", customers.Import)
		v.With(bulkLimit, uploadLimit.Middleware, idem.Middleware, audited("item.import", "items", "")).Post("/items/import", items.Import)

		v.Group(func(g chi.Router) {
			g.Use(jsonLimit.Middleware)

			g.Route("/items", func(ir chi.Router) {
				ir.Get("/", items.List)
				ir.With(bulkLimit).Get("/export", items.Export)
				ir.Get("/import/template", items.Template)
				ir.With(idem.Middleware).Post("/", items.Create)
				ir.Get("/{id}", items.Get)
				ir.Put("/{id}", items.Update)
				ir.With(audited("item.delete", "items", "id")).Delete("/{id}", items.Delete)
				ir.Get("/{id}/stock", items.CheckStock)
				ir.With(idem.Middleware, audited("item.stock_adjust", "items", "id")).Post("/{id}/stock", items.AdjustStock)
			})

			g.Route("/customers", func(cr chi.Router) {
				cr.Get("/", customers.List)
				cr.With(idem.Middleware).Post("/", customers.Create)
				cr.Get("/lookup", customers.Lookup)
				cr.With(bulkLimit).Get("/export", customers.Export)
				cr.Get("/{id}", customers.Get)
				cr.Put("/{id}", customers.Update)
				cr.With(audited("customer.delete", "customers", "id")).Delete("/{id}", customers.Delete)
			})

			g.Route("/carts", func(cr chi.Router) {
				cr.With(idem.Middleware).Post("/", carts.Create)
				cr.Get("/{id}", carts.Get)
				cr.Patch("/{id}", carts.Update)
				cr.Post("/{id}/items", carts.AddItem)
				cr.Delete("/{id}/items", carts.Clear)
				cr.Patch("/{id}/items/{itemId}", carts.UpdateItem)
				cr.Delete("/{id}/items/{itemId}", carts.RemoveItem)
				cr.With(checkoutLimit.Middleware, idem.Middleware).Post("/{id}/checkout", bills.Checkout)
			})

			g.Route("/bills", func(br chi.Router) {
				br.Get("/", bills.List)
				br.Get("/{id}", bills.Get)
				br.With(audited("bill.delete", "bills", "id")).Delete("/{id}", bills.Delete)
				br.With(audited("bill.status", "bills", "id")).Patch("/{id}/status", bills.UpdateStatus)
				br.Get("/{id}/events", bills.Events)
				br.Get("/{id}/receipt", receipts.Text)
				br.With(idem.Middleware).Post("/{id}/print", receipts.Print)
			})

			g.Get("/settings", shop.Get)
			g.Get("/settings/tax/preview", shop.TaxPreview)
			g.With(audited("settings.update", "settings", "")).Patch("/settings", shop.Update)

			g.Route("/invoice", func(ir chi.Router) {
				ir.Get("/settings", invoices.GetSettings)
				ir.With(audited("invoice.settings_update", "invoice", "")).Put("/settings", invoices.UpdateSettings)
				ir.Get("/preview", invoices.Preview)
				ir.Get("/stats", invoices.Statistics)
				ir.With(idem.Middleware, audited("invoice.reset", "invoice", "")).Post("/reset", invoices.Reset)
			})

			g.Get("/reports/sales", report.Sales)
			g.Get("/reports/top-items", report.TopItems)
			g.Get("/reports/tax", report.Tax)

			g.Route("/admin", func(ar chi.Router) {
				ar.Use(authMW.RequireAuth)
				a.mountAdmin(ar, audited)
			})
		})
	})
	return r, nil
}

// mountAdmin exposes the audit trail plus queue and maintenance controls.
// The latter need the Redis backend; with the memory backend they answer 503.
func (a *App) mountAdmin(r chi.Router, audited func(action, resource, idParam string) func(http.Handler) http.Handler) {
	cfg := a.Config
	trail := &audit.Handler{Store: a.Audit.Store, Logger: a.Logger.With().Str("component", "audit").Logger()}
	r.Get("/audit", trail.List)
	if a.Redis == nil {
		unavailable := func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusServiceUnavailable, "JOBS_UNAVAILABLE", "admin operations need the redis backend", nil)
		}
		r.HandleFunc("/*", unavailable)
		return
	}
	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewPGStore(a.DB),
		Queue:             queue.Enqueuer{R: a.Redis, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts},
		VisibilityTimeout: cfg.QueueVisibility,
		Logger:            a.Logger.With().Str("component", "queue_admin").Logger(),
	}
	maintenance := &jobs.Handler{
		Client:     a.Jobs,
		KeepDays:   cfg.InvoiceKeepDays,
		KeepMonths: cfg.InvoiceKeepMonths,
		Logger:     a.Logger.With().Str("component", "jobs").Logger(),
	}
	r.Get("/queue/stats", queueAdmin.Stats)
	r.Get("/queue/dlq", queueAdmin.ListDLQ)
	r.With(audited("queue.dlq_replay", "queue", "")).Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
	r.With(audited("invoice.prune", "invoice", "")).Post("/invoice/prune", maintenance.PruneCounters)
}

// newPprofMux keeps the full /debug/pprof/ paths because pprof.Index
// derives the profile name from them.
func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// protectPprof requires basic auth when a user is configured.
func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
