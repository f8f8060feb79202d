package subscriptions

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
)

func stripeSubscription(id, price string, status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                id,
		Status:            status,
		CancelAtPeriodEnd: true,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: price},
				CurrentPeriodStart: 1767225600,
				CurrentPeriodEnd:   1769904000,
			}},
		},
	}
}

func TestBuildFromStripe(t *testing.T) {
	userID := uuid.New()
	sub, err := BuildFromStripe(stripeSubscription("sub_123", "price_standard", stripe.SubscriptionStatusActive), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.UserID != userID || sub.StripeSubscriptionID != "sub_123" || sub.StripePriceID != "price_standard" {
		t.Fatalf("unexpected mapping: %+v", sub)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodStart.Unix() != 1767225600 {
		t.Fatalf("unexpected period start: %v", sub.CurrentPeriodStart)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1769904000 {
		t.Fatalf("unexpected period end: %v", sub.CurrentPeriodEnd)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end to be copied")
	}
}

func TestBuildFromStripeRequiresUser(t *testing.T) {
	_, err := BuildFromStripe(stripeSubscription("sub_123", "price_basic", stripe.SubscriptionStatusActive), uuid.Nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[stripe.SubscriptionStatus]enums.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            enums.SubscriptionStatusActive,
		stripe.SubscriptionStatusCanceled:          enums.SubscriptionStatusCancelled,
		stripe.SubscriptionStatusPastDue:           enums.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusTrialing:          enums.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusIncompleteExpired: enums.SubscriptionStatusIncompleteExpired,
		stripe.SubscriptionStatusPaused:            enums.SubscriptionStatusPaused,
	}
	for in, want := range cases {
		got, err := NormalizeStatus(in)
		if err != nil {
			t.Fatalf("normalize %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalize %s: expected %s, got %s", in, want, got)
		}
	}
	if _, err := NormalizeStatus("mystery"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestPriceIDAndPeriodWithoutItems(t *testing.T) {
	sub := &stripe.Subscription{ID: "sub_empty"}
	if PriceID(sub) != "" {
		t.Fatal("expected empty price id")
	}
	start, end := PeriodBounds(sub)
	if start != nil || end != nil {
		t.Fatal("expected nil period bounds")
	}
}
