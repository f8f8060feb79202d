package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vodstream/vod-backend/api/controllers"
	billingcontrollers "github.com/vodstream/vod-backend/api/controllers/billing"
	usercontrollers "github.com/vodstream/vod-backend/api/controllers/users"
	webhookcontrollers "github.com/vodstream/vod-backend/api/controllers/webhooks"
	"github.com/vodstream/vod-backend/api/middleware"
	"github.com/vodstream/vod-backend/internal/billing"
	"github.com/vodstream/vod-backend/internal/profiles"
	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
	"github.com/vodstream/vod-backend/pkg/redis"
	"github.com/vodstream/vod-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	metricsHandler http.Handler,
	webhookMetrics *metrics.WebhookMetrics,
	profileResolver middleware.ProfileResolver,
	profilesService profiles.Service,
	billingService billing.Service,
	stripeClient *stripe.Client,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Frontend.BaseURL),
	)

	readiness := map[string]controllers.Pinger{"db": dbP}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Stripe authenticates itself with the payload signature, not a bearer token.
	r.Post("/api/v1/stripe/webhook", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, guardOrNil(stripeWebhookGuard), webhookMetrics, logg))

	r.Route("/api/v1", func(r chi.Router) {
		if redisClient != nil {
			r.Use(middleware.RateLimit(middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.IPLimit), redisClient, logg))
		}
		r.Use(middleware.Auth(cfg.Auth, profileResolver, logg))

		r.Route("/stripe", func(r chi.Router) {
			r.Post("/create-checkout-session", billingcontrollers.CreateCheckoutSession(billingService, logg))
			r.Post("/create-portal-session", billingcontrollers.CreatePortalSession(billingService, logg))
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", usercontrollers.Me(profilesService, logg))
			r.Get("/me/subscription", usercontrollers.MySubscription(profilesService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logg))
				r.Put("/{id}/subscription", usercontrollers.AdminSetSubscription(profilesService, logg))
			})
		})
	})

	return r
}

type webhookGuard interface {
	Begin(ctx context.Context, eventID string) (stripewebhook.MarkState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

// guardOrNil keeps a nil guard pointer from becoming a non-nil interface.
func guardOrNil(g *stripewebhook.IdempotencyGuard) webhookGuard {
	if g == nil {
		return nil
	}
	return g
}
