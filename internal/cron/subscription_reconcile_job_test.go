package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	stripewebhook "github.com/vodstream/vod-backend/internal/webhooks/stripe"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/logger"
)

type fakeCandidates struct {
	rows     []models.Subscription
	err      error
	limit    int
	lookback time.Duration
}

func (f *fakeCandidates) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	f.limit = limit
	f.lookback = lookback
	return f.rows, f.err
}

type fakeReconciler struct {
	failures map[string]error
	seen     []string
}

func (f *fakeReconciler) Reconcile(ctx context.Context, stripeSubscriptionID string) (stripewebhook.Outcome, error) {
	f.seen = append(f.seen, stripeSubscriptionID)
	if err := f.failures[stripeSubscriptionID]; err != nil {
		return stripewebhook.OutcomeIgnored, err
	}
	return stripewebhook.OutcomeApplied, nil
}

func newReconcileJob(t *testing.T, candidates *fakeCandidates, reconciler *fakeReconciler) Job {
	t.Helper()
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		Subscriptions: candidates,
		Reconciler:    reconciler,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionReconcileJob: %v", err)
	}
	return job
}

func TestSubscriptionReconcileJobAggregatesFailures(t *testing.T) {
	candidates := &fakeCandidates{rows: []models.Subscription{
		{ID: uuid.New(), StripeSubscriptionID: "sub_ok"},
		{ID: uuid.New(), StripeSubscriptionID: "sub_bad"},
		{ID: uuid.New(), StripeSubscriptionID: ""},
		{ID: uuid.New(), StripeSubscriptionID: "sub_worse"},
	}}
	reconciler := &fakeReconciler{failures: map[string]error{
		"sub_bad":   errors.New("stripe timeout"),
		"sub_worse": errors.New("db down"),
	}}
	job := newReconcileJob(t, candidates, reconciler)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
	if len(reconciler.seen) != 3 {
		t.Fatalf("expected 3 reconcile calls, got %v", reconciler.seen)
	}
	if candidates.limit != defaultReconcileLimit || candidates.lookback != defaultReconcileLookback {
		t.Fatalf("expected defaults, got %d %s", candidates.limit, candidates.lookback)
	}
}

func TestSubscriptionReconcileJobListFailure(t *testing.T) {
	job := newReconcileJob(t, &fakeCandidates{err: errors.New("boom")}, &fakeReconciler{})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubscriptionReconcileJobRequiresDependencies(t *testing.T) {
	if _, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{}); err == nil {
		t.Fatal("expected error")
	}
}
