package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vodstream/vod-backend/api/routes"
	"github.com/vodstream/vod-backend/internal/billing"
	"github.com/vodstream/vod-backend/internal/profiles"
	"github.com/vodstream/vod-backend/internal/subscriptions"
	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db"
	"github.com/vodstream/vod-backend/pkg/instance"
	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
	"github.com/vodstream/vod-backend/pkg/migrate"
	"github.com/vodstream/vod-backend/pkg/outbox"
	"github.com/vodstream/vod-backend/pkg/redis"
	"github.com/vodstream/vod-backend/pkg/stripe"
)

const (
	webhookGuardScope = "stripe-webhook"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	prices := subscriptions.PriceTableFromConfig(cfg.Stripe)
	profileRepo := profiles.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	entitlements := profiles.NewEntitlementWriter(profileRepo, outboxService)

	synchronizer, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions:     subscriptionRepo,
		Profiles:          profileRepo,
		Entitlements:      entitlements,
		StripeClient:      subscriptions.NewStripeClient(stripeClient),
		Prices:            prices,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, webhookGuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Profiles: profileRepo,
		Stripe:   billing.NewStripeClient(stripeClient),
		Prices:   prices,
		Frontend: cfg.Frontend,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	profilesService, err := profiles.NewService(profiles.ServiceParams{
		Profiles:          profileRepo,
		Subscriptions:     subscriptionRepo,
		Entitlements:      entitlements,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create profiles service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"stripe_env": stripeClient.Environment(),
		"prices":     prices.Len(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			webhookMetrics,
			profileRepo,
			profilesService,
			billingService,
			stripeClient,
			synchronizer,
			guard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
