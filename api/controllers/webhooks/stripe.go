package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/vodstream/vod-backend/api/responses"
	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
)

const maxWebhookBodyBytes = 65536

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	Begin(ctx context.Context, eventID string) (stripewebhook.MarkState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type webhookReceipt struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// StripeWebhook verifies and applies Stripe billing events. Any non-2xx
// response makes Stripe redeliver, so only retryable failures map to 5xx.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, observer *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			observer.Observe("", metrics.OutcomeRejected, time.Since(start))
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			observer.Observe("", metrics.OutcomeRejected, time.Since(start))
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			observer.Observe("", metrics.OutcomeRejected, time.Since(start))
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature"))
			return
		}

		eventType := string(event.Type)
		if logg != nil {
			ctx = logg.WithStripeEvent(ctx, event.ID, eventType)
		}

		if guard != nil {
			state, err := guard.Begin(ctx, event.ID)
			if err != nil {
				observer.Observe(eventType, metrics.OutcomeFailed, time.Since(start))
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			switch state {
			case stripewebhook.MarkCompleted:
				observer.Observe(eventType, metrics.OutcomeDuplicate, time.Since(start))
				if logg != nil {
					logg.Info(ctx, "stripe.webhook.duplicate")
				}
				responses.WriteSuccess(w, webhookReceipt{Received: true, Outcome: metrics.OutcomeDuplicate})
				return
			case stripewebhook.MarkInFlight:
				observer.Observe(eventType, metrics.OutcomeFailed, time.Since(start))
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "stripe event is already being processed"))
				return
			}

			committed := false
			defer func() {
				if committed {
					return
				}
				// also runs while a panic unwinds toward the recoverer
				if err := guard.Release(ctx, event.ID); err != nil && logg != nil {
					logg.Error(ctx, "stripe.webhook.guard_release_failed", err)
				}
			}()
			outcome, err := svc.HandleEvent(ctx, &event)
			if err != nil {
				writeHandleError(ctx, w, observer, logg, eventType, start, err)
				return
			}
			committed = true
			if err := guard.Complete(ctx, event.ID); err != nil && logg != nil {
				logg.Error(ctx, "stripe.webhook.guard_complete_failed", err)
			}
			writeProcessed(ctx, w, observer, logg, eventType, start, outcome)
			return
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			writeHandleError(ctx, w, observer, logg, eventType, start, err)
			return
		}
		writeProcessed(ctx, w, observer, logg, eventType, start, outcome)
	}
}

func writeHandleError(ctx context.Context, w http.ResponseWriter, observer *metrics.WebhookMetrics, logg *logger.Logger, eventType string, start time.Time, err error) {
	label := metrics.OutcomeFailed
	if !pkgerrors.IsRetryable(err) {
		label = metrics.OutcomeRejected
	}
	observer.Observe(eventType, label, time.Since(start))
	responses.WriteError(ctx, logg, w, err)
}

func writeProcessed(ctx context.Context, w http.ResponseWriter, observer *metrics.WebhookMetrics, logg *logger.Logger, eventType string, start time.Time, outcome stripewebhook.Outcome) {
	observer.Observe(eventType, string(outcome), time.Since(start))
	if logg != nil {
		logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "stripe.webhook.processed")
	}
	responses.WriteSuccess(w, webhookReceipt{Received: true, Outcome: string(outcome)})
}
