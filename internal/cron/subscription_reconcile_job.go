package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type reconcileCandidates interface {
	ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)
}

type subscriptionReconciler interface {
	Reconcile(ctx context.Context, stripeSubscriptionID string) (stripewebhook.Outcome, error)
}

// SubscriptionReconcileJobParams configures the Stripe subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger        *logger.Logger
	Subscriptions reconcileCandidates
	Reconciler    subscriptionReconciler
	Limit         int
	Lookback      time.Duration
}

// NewSubscriptionReconcileJob builds a job that re-reads live subscriptions from Stripe
// and applies them through the synchronizer, repairing lost or reordered webhooks.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		subs:       params.Subscriptions,
		reconciler: params.Reconciler,
		limit:      limit,
		lookback:   lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	subs       reconcileCandidates
	reconciler subscriptionReconciler
	limit      int
	lookback   time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.subs.ListForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	synced, skipped := 0, 0
	for i := range snapshot {
		sub := &snapshot[i]
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"subscription_id":        sub.ID.String(),
			"user_id":                sub.UserID.String(),
			"stripe_subscription_id": sub.StripeSubscriptionID,
		})
		if strings.TrimSpace(sub.StripeSubscriptionID) == "" {
			skipped++
			continue
		}
		outcome, err := j.reconciler.Reconcile(logCtx, sub.StripeSubscriptionID)
		if err != nil {
			j.logg.Error(logCtx, "subscription reconcile failed", err)
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", sub.StripeSubscriptionID, err))
			continue
		}
		if outcome == stripewebhook.OutcomeApplied {
			synced++
		} else {
			skipped++
		}
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"synced":     synced,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}
