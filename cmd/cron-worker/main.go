package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vodstream/vod-backend/internal/cron"
	"github.com/vodstream/vod-backend/internal/profiles"
	"github.com/vodstream/vod-backend/internal/subscriptions"
	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db"
	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
	"github.com/vodstream/vod-backend/pkg/migrate"
	"github.com/vodstream/vod-backend/pkg/outbox"
	"github.com/vodstream/vod-backend/pkg/redis"
	"github.com/vodstream/vod-backend/pkg/stripe"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit (for scheduler-driven deployments)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	profileRepo := profiles.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	synchronizer, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions:     subscriptionRepo,
		Profiles:          profileRepo,
		Entitlements:      profiles.NewEntitlementWriter(profileRepo, outbox.NewService(outboxRepo, logg)),
		StripeClient:      subscriptions.NewStripeClient(stripeClient),
		Prices:            subscriptions.PriceTableFromConfig(cfg.Stripe),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription synchronizer", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:        logg,
		Subscriptions: subscriptionRepo,
		Reconciler:    synchronizer,
		Limit:         cfg.Cron.ReconcileLimit,
		Lookback:      cfg.Cron.ReconcileLookback,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reconcileJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "cron cycle complete")
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
