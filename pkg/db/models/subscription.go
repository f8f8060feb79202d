package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/pkg/enums"
)

// Subscription persists the provider's subscription state per profile.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex"`
	StripePriceID        string                   `gorm:"column:stripe_price_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:text;not null"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
