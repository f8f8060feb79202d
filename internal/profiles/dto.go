package profiles

import (
	"time"

	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
)

// ProfileDTO is the transport shape of a profile. The billing customer id is reduced to a flag.
type ProfileDTO struct {
	ID                 uuid.UUID                       `json:"id"`
	Email              *string                         `json:"email,omitempty"`
	FullName           *string                         `json:"full_name,omitempty"`
	AvatarURL          *string                         `json:"avatar_url,omitempty"`
	Bio                *string                         `json:"bio,omitempty"`
	Role               enums.ProfileRole               `json:"role"`
	SubscriptionTier   enums.SubscriptionTier          `json:"subscription_tier"`
	SubscriptionStatus enums.ProfileSubscriptionStatus `json:"subscription_status"`
	CustomerLinked     bool                            `json:"customer_linked"`
	CreatedAt          time.Time                       `json:"created_at"`
	UpdatedAt          time.Time                       `json:"updated_at"`
}

// SubscriptionDTO is the transport shape of a subscription row.
type SubscriptionDTO struct {
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	StripePriceID        string                   `json:"stripe_price_id"`
	Status               enums.SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool                     `json:"cancel_at_period_end"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// EntitlementDTO summarizes what the caller may watch.
type EntitlementDTO struct {
	UserID         uuid.UUID                       `json:"user_id"`
	Tier           enums.SubscriptionTier          `json:"tier"`
	Status         enums.ProfileSubscriptionStatus `json:"status"`
	Entitled       bool                            `json:"entitled"`
	CustomerLinked bool                            `json:"customer_linked"`
	Subscription   *SubscriptionDTO                `json:"subscription,omitempty"`
}

// SetEntitlementInput is the admin override payload.
type SetEntitlementInput struct {
	Tier   enums.SubscriptionTier
	Status enums.ProfileSubscriptionStatus
}

func FromModel(p *models.Profile) *ProfileDTO {
	if p == nil {
		return nil
	}
	return &ProfileDTO{
		ID:                 p.ID,
		Email:              p.Email,
		FullName:           p.FullName,
		AvatarURL:          p.AvatarURL,
		Bio:                p.Bio,
		Role:               p.Role,
		SubscriptionTier:   p.SubscriptionTier,
		SubscriptionStatus: p.SubscriptionStatus,
		CustomerLinked:     p.StripeCustomerID != nil && *p.StripeCustomerID != "",
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func subscriptionFromModel(s *models.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		StripeSubscriptionID: s.StripeSubscriptionID,
		StripePriceID:        s.StripePriceID,
		Status:               s.Status,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		UpdatedAt:            s.UpdatedAt,
	}
}
