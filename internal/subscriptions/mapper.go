package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
)

// BuildFromStripe maps a Stripe subscription into a new row owned by userID.
func BuildFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub := &models.Subscription{UserID: userID}
	if err := ApplyStripe(sub, stripeSub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ApplyStripe overwrites the provider-owned fields of target with stripeSub.
func ApplyStripe(target *models.Subscription, stripeSub *stripe.Subscription) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if strings.TrimSpace(stripeSub.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription id is required")
	}
	status, err := NormalizeStatus(stripeSub.Status)
	if err != nil {
		return err
	}
	start, end := PeriodBounds(stripeSub)

	target.StripeSubscriptionID = stripeSub.ID
	target.StripePriceID = PriceID(stripeSub)
	target.Status = status
	target.CurrentPeriodStart = start
	target.CurrentPeriodEnd = end
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	return nil
}

// NormalizeStatus converts the provider status into the stored vocabulary.
func NormalizeStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	raw := strings.ToLower(strings.TrimSpace(string(status)))
	parsed, err := enums.ParseSubscriptionStatus(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported stripe subscription status")
	}
	return parsed, nil
}

// PriceID returns the price of the first subscription item.
func PriceID(sub *stripe.Subscription) string {
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

// PeriodBounds returns the current billing period of the first subscription item.
func PeriodBounds(sub *stripe.Subscription) (*time.Time, *time.Time) {
	item := firstItem(sub)
	if item == nil {
		return nil, nil
	}
	return toTimePtr(item.CurrentPeriodStart), toTimePtr(item.CurrentPeriodEnd)
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
