package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-kasir/internal/app"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/jobs"
	"github.com/noah-isme/backend-kasir/internal/notify"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, "kasir-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise app")
	}
	defer a.Close()
	if err := a.RequireRedis(); err != nil {
		logger.Fatal().Err(err).Msg("worker disabled")
	}

	printWorker := queue.Worker{
		R:                 a.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              receipt.KindPrint,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibility,
		Store:             queue.NewPGStore(a.DB),
		Logger:            logger.With().Str("kind", receipt.KindPrint).Logger(),
		Handler:           a.Receipts.Handle,
	}
	webhookWorker := printWorker
	webhookWorker.Kind = notify.KindWebhook
	webhookWorker.Logger = logger.With().Str("kind", notify.KindWebhook).Logger()
	webhookWorker.Handler = a.Webhooks.Handle

	redisOpts, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri")
	}
	pruneTask, err := jobs.NewPruneCountersTask(cfg.InvoiceKeepDays, cfg.InvoiceKeepMonths)
	if err != nil {
		logger.Fatal().Err(err).Msg("build prune task")
	}
	maintenance, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Location:  a.Location,
		Handlers: []jobs.TaskHandler{{
			Type:    jobs.TaskPruneCounters,
			Handler: jobs.PruneCountersJob{Pruner: a.Invoices, Logger: logger}.Handle,
		}},
		Cron: []jobs.CronRegistration{{Spec: cfg.JobsPruneCron, Task: pruneTask}},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure jobs")
	}

	logger.Info().Str("cron", cfg.JobsPruneCron).Msg("worker starting")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return printWorker.Run(gctx) })
	g.Go(func() error { return maintenance.Run(gctx) })
	if a.Webhooks.Enabled() {
		g.Go(func() error { return webhookWorker.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}
