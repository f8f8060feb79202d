package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
)

// Repository exposes profile persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a profiles repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID returns nil, nil when the profile does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// GetOrCreate loads the profile for an identity, creating a free/inactive row on first sight.
func (r *Repository) GetOrCreate(ctx context.Context, id uuid.UUID, email string) (*models.Profile, error) {
	profile := &models.Profile{ID: id}
	if trimmed := strings.TrimSpace(email); trimmed != "" {
		profile.Email = &trimmed
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(profile).Error; err != nil {
		return nil, err
	}
	stored, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return stored, nil
}

// UpdateEntitlement writes tier and status. It reports false when no profile matched.
func (r *Repository) UpdateEntitlement(ctx context.Context, id uuid.UUID, tier enums.SubscriptionTier, status enums.ProfileSubscriptionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_tier":   tier,
			"subscription_status": status,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetStripeCustomerIDIfEmpty stores the billing customer id only when none is set yet.
// It reports whether this call performed the write.
func (r *Repository) SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND stripe_customer_id IS NULL", id).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
