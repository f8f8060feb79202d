package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/pkg/enums"
)

// Profile is the per-user row carrying the entitlement fields read by playback.
// Its ID equals the identity provider's user id.
type Profile struct {
	ID                 uuid.UUID                       `gorm:"column:id;type:uuid;primaryKey"`
	Email              *string                         `gorm:"column:email"`
	FullName           *string                         `gorm:"column:full_name"`
	AvatarURL          *string                         `gorm:"column:avatar_url"`
	Bio                *string                         `gorm:"column:bio"`
	Role               enums.ProfileRole               `gorm:"column:role;type:text;not null;default:'user'"`
	SubscriptionTier   enums.SubscriptionTier          `gorm:"column:subscription_tier;type:text;not null;default:'free'"`
	SubscriptionStatus enums.ProfileSubscriptionStatus `gorm:"column:subscription_status;type:text;not null;default:'inactive'"`
	StripeCustomerID   *string                         `gorm:"column:stripe_customer_id;uniqueIndex"`
	CreatedAt          time.Time                       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Profile) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Role == "" {
		p.Role = enums.ProfileRoleUser
	}
	if p.SubscriptionTier == "" {
		p.SubscriptionTier = enums.SubscriptionTierFree
	}
	if p.SubscriptionStatus == "" {
		p.SubscriptionStatus = enums.ProfileStatusInactive
	}
	return nil
}

// IsEntitled reports whether the profile currently grants paid playback.
func (p Profile) IsEntitled() bool {
	return p.SubscriptionTier.IsPaid() && p.SubscriptionStatus == enums.ProfileStatusActive
}
