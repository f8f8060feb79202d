package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/internal/profiles"
	"github.com/vodstream/vod-backend/internal/subscriptions"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db/dbtest"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/outbox"
)

const (
	priceBasic    = "price_basic"
	priceStandard = "price_standard"
	pricePremium  = "price_premium"
)

type stubStripeClient struct {
	subs  map[string]*stripe.Subscription
	err   error
	calls int
}

func (s *stubStripeClient) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	sub, ok := s.subs[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

type failingTx struct{}

func (failingTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return errors.New("database unavailable")
}

type harness struct {
	svc    *Service
	conn   *gorm.DB
	stripe *stubStripeClient
	user   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	profileRepo := profiles.NewRepository(conn)
	stripeClient := &stubStripeClient{subs: map[string]*stripe.Subscription{}}
	svc, err := NewService(ServiceParams{
		Subscriptions: subscriptions.NewRepository(conn),
		Profiles:      profileRepo,
		Entitlements:  profiles.NewEntitlementWriter(profileRepo, outbox.NewService(outbox.NewRepository(conn), nil)),
		StripeClient:  stripeClient,
		Prices: subscriptions.PriceTableFromConfig(config.StripeConfig{
			PriceIDBasic:    priceBasic,
			PriceIDStandard: priceStandard,
			PriceIDPremium:  pricePremium,
		}),
		TransactionRunner: client,
	})
	require.NoError(t, err)

	user := uuid.New()
	_, err = profileRepo.GetOrCreate(context.Background(), user, "viewer@example.com")
	require.NoError(t, err)
	return &harness{svc: svc, conn: conn, stripe: stripeClient, user: user}
}

func providerSubscription(id, price string, status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: status,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: price},
				CurrentPeriodStart: 1767225600,
				CurrentPeriodEnd:   1769904000,
			}},
		},
	}
}

func newEvent(t *testing.T, eventType stripe.EventType, object map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutEvent(t *testing.T, userID, subscriptionID string) *stripe.Event {
	metadata := map[string]string{}
	if userID != "" {
		metadata["user_id"] = userID
	}
	object := map[string]any{
		"id":       "cs_test_1",
		"object":   "checkout.session",
		"mode":     "subscription",
		"metadata": metadata,
	}
	if subscriptionID != "" {
		object["subscription"] = subscriptionID
	}
	return newEvent(t, stripe.EventTypeCheckoutSessionCompleted, object)
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, id, price, status string) *stripe.Event {
	return newEvent(t, eventType, map[string]any{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"cancel_at_period_end": false,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":                   "si_1",
				"object":               "subscription_item",
				"price":                map[string]any{"id": price, "object": "price"},
				"current_period_start": 1767225600,
				"current_period_end":   1769904000,
			}},
		},
	})
}

func (h *harness) profile(t *testing.T) *models.Profile {
	t.Helper()
	profile, err := profiles.NewRepository(h.conn).FindByID(context.Background(), h.user)
	require.NoError(t, err)
	require.NotNil(t, profile)
	return profile
}

func (h *harness) subscriptionRows(t *testing.T) []models.Subscription {
	t.Helper()
	var rows []models.Subscription
	require.NoError(t, h.conn.Find(&rows).Error)
	return rows
}

func (h *harness) outboxCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	return count
}

func (h *harness) completeCheckout(t *testing.T, subID, price string) {
	t.Helper()
	h.stripe.subs[subID] = providerSubscription(subID, price, stripe.SubscriptionStatusActive)
	outcome, err := h.svc.HandleEvent(context.Background(), checkoutEvent(t, h.user.String(), subID))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
}

func TestCheckoutCompletedGrantsTier(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", priceStandard)

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierStandard, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusActive, profile.SubscriptionStatus)

	rows := h.subscriptionRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, h.user, rows[0].UserID)
	assert.Equal(t, priceStandard, rows[0].StripePriceID)
	assert.Equal(t, enums.SubscriptionStatusActive, rows[0].Status)
	require.NotNil(t, rows[0].CurrentPeriodEnd)
	assert.EqualValues(t, 1769904000, rows[0].CurrentPeriodEnd.Unix())
	assert.EqualValues(t, 1, h.outboxCount(t))
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.stripe.subs["sub_1"] = providerSubscription("sub_1", pricePremium, stripe.SubscriptionStatusActive)
	event := checkoutEvent(t, h.user.String(), "sub_1")

	for i := 0; i < 3; i++ {
		_, err := h.svc.HandleEvent(context.Background(), event)
		require.NoError(t, err)
	}

	assert.Len(t, h.subscriptionRows(t), 1)
	assert.Equal(t, enums.SubscriptionTierPremium, h.profile(t).SubscriptionTier)
	assert.EqualValues(t, 1, h.outboxCount(t))
}

func TestCheckoutCompletedUnknownPriceResolvesFree(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", "price_legacy")

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierFree, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusActive, profile.SubscriptionStatus)
}

func TestCheckoutCompletedRejectsMalformedSessions(t *testing.T) {
	cases := map[string]func(t *testing.T, h *harness) *stripe.Event{
		"missing user": func(t *testing.T, h *harness) *stripe.Event {
			return checkoutEvent(t, "", "sub_1")
		},
		"invalid user": func(t *testing.T, h *harness) *stripe.Event {
			return checkoutEvent(t, "not-a-uuid", "sub_1")
		},
		"missing subscription": func(t *testing.T, h *harness) *stripe.Event {
			return checkoutEvent(t, h.user.String(), "")
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.stripe.subs["sub_1"] = providerSubscription("sub_1", priceBasic, stripe.SubscriptionStatusActive)

			_, err := h.svc.HandleEvent(context.Background(), build(t, h))
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Empty(t, h.subscriptionRows(t))
			assert.Equal(t, enums.SubscriptionTierFree, h.profile(t).SubscriptionTier)
			assert.Zero(t, h.stripe.calls)
		})
	}
}

func TestCheckoutCompletedIgnoresPaymentMode(t *testing.T) {
	h := newHarness(t)
	event := newEvent(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":       "cs_payment",
		"object":   "checkout.session",
		"mode":     "payment",
		"metadata": map[string]string{"user_id": h.user.String()},
	})
	outcome, err := h.svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.subscriptionRows(t))
}

func TestCheckoutCompletedStripeFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.stripe.err = errors.New("stripe timeout")
	_, err := h.svc.HandleEvent(context.Background(), checkoutEvent(t, h.user.String(), "sub_1"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Empty(t, h.subscriptionRows(t))
}

func TestSubscriptionUpdatedToPastDue(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", priceStandard)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_1", priceStandard, "past_due")
	for i := 0; i < 2; i++ {
		outcome, err := h.svc.HandleEvent(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
	}

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierStandard, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusPastDue, profile.SubscriptionStatus)

	rows := h.subscriptionRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.SubscriptionStatusPastDue, rows[0].Status)
	assert.EqualValues(t, 2, h.outboxCount(t))
}

func TestSubscriptionUpdatedChangesTierWithPrice(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", priceBasic)

	_, err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_1", pricePremium, "active"))
	require.NoError(t, err)

	assert.Equal(t, enums.SubscriptionTierPremium, h.profile(t).SubscriptionTier)
	rows := h.subscriptionRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, pricePremium, rows[0].StripePriceID)
}

func TestSubscriptionUpdatedUnknownSubscriptionIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_missing", priceBasic, "active"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.subscriptionRows(t))
	assert.Zero(t, h.outboxCount(t))
}

func TestSubscriptionDeletedRevokesEntitlement(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", pricePremium)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, "sub_1", pricePremium, "canceled")
	for i := 0; i < 2; i++ {
		_, err := h.svc.HandleEvent(context.Background(), event)
		require.NoError(t, err)
	}

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierFree, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusCancelled, profile.SubscriptionStatus)

	rows := h.subscriptionRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.SubscriptionStatusCancelled, rows[0].Status)
	assert.EqualValues(t, 2, h.outboxCount(t))
}

func TestUnsupportedEventIsNoOp(t *testing.T) {
	h := newHarness(t)
	event := newEvent(t, stripe.EventTypeInvoicePaid, map[string]any{"id": "in_1", "object": "invoice"})
	outcome, err := h.svc.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.subscriptionRows(t))
	assert.Zero(t, h.outboxCount(t))
	assert.Zero(t, h.stripe.calls)
}

func TestMalformedSubscriptionPayloadIsValidationError(t *testing.T) {
	h := newHarness(t)
	event := &stripe.Event{
		ID:   "evt_bad",
		Type: stripe.EventTypeCustomerSubscriptionUpdated,
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":`)},
	}
	_, err := h.svc.HandleEvent(context.Background(), event)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestStoreFailureIsRetryable(t *testing.T) {
	conn := dbtest.Open(t)
	profileRepo := profiles.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Subscriptions:     subscriptions.NewRepository(conn),
		Profiles:          profileRepo,
		Entitlements:      profiles.NewEntitlementWriter(profileRepo, nil),
		StripeClient:      &stubStripeClient{},
		TransactionRunner: failingTx{},
	})
	require.NoError(t, err)

	_, err = svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, "sub_1", priceBasic, "canceled"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestReconcileAppliesProviderState(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", priceStandard)

	h.stripe.subs["sub_1"] = providerSubscription("sub_1", priceStandard, stripe.SubscriptionStatusUnpaid)
	outcome, err := h.svc.Reconcile(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, enums.ProfileStatusPastDue, h.profile(t).SubscriptionStatus)

	h.stripe.subs["sub_1"] = providerSubscription("sub_1", priceStandard, stripe.SubscriptionStatusCanceled)
	_, err = h.svc.Reconcile(context.Background(), "sub_1")
	require.NoError(t, err)
	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierFree, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusCancelled, profile.SubscriptionStatus)
}

func TestReconcileAfterResubscribeKeepsNewEntitlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completeCheckout(t, "sub_old", priceBasic)
	_, err := h.svc.HandleEvent(ctx, subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, "sub_old", priceBasic, "canceled"))
	require.NoError(t, err)
	h.stripe.subs["sub_old"] = providerSubscription("sub_old", priceBasic, stripe.SubscriptionStatusCanceled)
	h.completeCheckout(t, "sub_new", pricePremium)

	candidates, err := subscriptions.NewRepository(h.conn).ListForReconciliation(ctx, 10, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "sub_new", candidates[0].StripeSubscriptionID)

	for _, candidate := range candidates {
		_, err := h.svc.Reconcile(ctx, candidate.StripeSubscriptionID)
		require.NoError(t, err)
	}
	_, err = h.svc.Reconcile(ctx, "sub_old")
	require.NoError(t, err)

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierPremium, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusActive, profile.SubscriptionStatus)
}

func TestLateDeletionOfReplacedSubscriptionKeepsEntitlement(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_old", priceBasic)
	h.completeCheckout(t, "sub_new", pricePremium)
	before := h.outboxCount(t)

	outcome, err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, "sub_old", priceBasic, "canceled"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierPremium, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusActive, profile.SubscriptionStatus)
	assert.Equal(t, before, h.outboxCount(t))

	old, err := subscriptions.NewRepository(h.conn).FindByStripeID(context.Background(), "sub_old")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, enums.SubscriptionStatusCancelled, old.Status)
}

func TestLapsedUpdateOfReplacedSubscriptionKeepsEntitlement(t *testing.T) {
	h := newHarness(t)
	h.completeCheckout(t, "sub_old", priceBasic)
	h.completeCheckout(t, "sub_new", pricePremium)

	_, err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_old", priceBasic, "incomplete_expired"))
	require.NoError(t, err)

	profile := h.profile(t)
	assert.Equal(t, enums.SubscriptionTierPremium, profile.SubscriptionTier)
	assert.Equal(t, enums.ProfileStatusActive, profile.SubscriptionStatus)
}

func TestCheckoutCompletedRejectsSubscriptionOwnedByAnotherUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.completeCheckout(t, "sub_1", pricePremium)

	intruder := uuid.New()
	_, err := profiles.NewRepository(h.conn).GetOrCreate(ctx, intruder, "other@example.com")
	require.NoError(t, err)

	_, err = h.svc.HandleEvent(ctx, checkoutEvent(t, intruder.String(), "sub_1"))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	other, err := profiles.NewRepository(h.conn).FindByID(ctx, intruder)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, enums.SubscriptionTierFree, other.SubscriptionTier)

	rows := h.subscriptionRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, h.user, rows[0].UserID)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
