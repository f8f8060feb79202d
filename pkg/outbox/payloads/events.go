package payloads

import (
	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/pkg/enums"
)

// EntitlementChangedEvent is emitted whenever a profile's tier or status is written.
type EntitlementChangedEvent struct {
	UserID               uuid.UUID                       `json:"user_id"`
	Tier                 enums.SubscriptionTier          `json:"tier"`
	Status               enums.ProfileSubscriptionStatus `json:"status"`
	StripeSubscriptionID string                          `json:"stripe_subscription_id,omitempty"`
	Source               string                          `json:"source"`
}

// Entitlement change sources.
const (
	SourceCheckoutCompleted   = "checkout.session.completed"
	SourceSubscriptionUpdated = "customer.subscription.updated"
	SourceSubscriptionDeleted = "customer.subscription.deleted"
	SourceReconcile           = "reconcile"
	SourceAdmin               = "admin"
)
