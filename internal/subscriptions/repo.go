package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

// liveStatuses grant access to the owner's profile.
var liveStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusTrialing,
	enums.SubscriptionStatusPastDue,
}

// Repository persists subscription rows keyed by the provider subscription id.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a subscriptions repo bound to the provided GORM DB.
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

// Upsert inserts sub or, when the provider id already exists, overwrites the provider-owned
// columns. The owner of an existing row is never reassigned. The stored row is returned.
func (r *Repository) Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscription is required")
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stripe_price_id",
				"status",
				"current_period_start",
				"current_period_end",
				"cancel_at_period_end",
				"updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	stored, err := r.FindByStripeID(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return stored, nil
}

// FindByStripeID returns nil, nil when no row carries the provider id.
func (r *Repository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Update writes every column of an existing row.
func (r *Repository) Update(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("subscription is required")
	}
	return r.db.WithContext(ctx).Save(sub).Error
}

// MarkCancelled retires a row without deleting it.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.SubscriptionStatusCancelled,
			"updated_at": time.Now().UTC(),
		}).Error
}

// LatestForUser returns the most recently updated subscription of the user, if any.
func (r *Repository) LatestForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// HasOtherLive reports whether the user owns a live subscription other than the given provider id.
func (r *Repository) HasOtherLive(ctx context.Context, userID uuid.UUID, stripeSubscriptionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Where("stripe_subscription_id <> ?", stripeSubscriptionID).
		Where("status IN ?", liveStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListForReconciliation returns rows that are not terminal or whose period ended within lookback.
// Rows already stored as cancelled are never candidates.
func (r *Repository) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	cutoff := time.Now().UTC().Add(-lookback)
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusIncomplete,
		enums.SubscriptionStatusUnpaid,
		enums.SubscriptionStatusPaused,
	}
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id <> ''").
		Where("status <> ?", enums.SubscriptionStatusCancelled).
		Where("(status IN ? OR cancel_at_period_end OR current_period_end >= ?)", statuses, cutoff).
		Order("updated_at DESC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
