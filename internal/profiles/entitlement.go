package profiles

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/outbox"
	"github.com/vodstream/vod-backend/pkg/outbox/payloads"
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EntitlementChange describes a tier/status write for one profile.
type EntitlementChange struct {
	UserID               uuid.UUID
	Tier                 enums.SubscriptionTier
	Status               enums.ProfileSubscriptionStatus
	StripeSubscriptionID string
	Source               string
	Actor                *outbox.ActorRef
}

// EntitlementWriter updates a profile's entitlement and queues the change event in the same tx.
type EntitlementWriter struct {
	repo   *Repository
	outbox outboxEmitter
}

// NewEntitlementWriter returns a writer; a nil emitter disables change events.
func NewEntitlementWriter(repo *Repository, emitter outboxEmitter) *EntitlementWriter {
	return &EntitlementWriter{repo: repo, outbox: emitter}
}

// Apply must run inside tx. It reports false when the profile does not exist.
// A change that matches the stored entitlement writes nothing and queues no event.
func (w *EntitlementWriter) Apply(ctx context.Context, tx *gorm.DB, change EntitlementChange) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !change.Tier.IsValid() || !change.Status.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid entitlement")
	}
	repo := w.repo.WithTx(tx)
	current, err := repo.FindByID(ctx, change.UserID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load profile")
	}
	if current == nil {
		return false, nil
	}
	if current.SubscriptionTier == change.Tier && current.SubscriptionStatus == change.Status {
		return true, nil
	}
	if _, err := repo.UpdateEntitlement(ctx, change.UserID, change.Tier, change.Status); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update profile entitlement")
	}
	if w.outbox == nil {
		return true, nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventEntitlementChanged,
		AggregateType: enums.AggregateProfile,
		AggregateID:   change.UserID,
		Actor:         change.Actor,
		Data: payloads.EntitlementChangedEvent{
			UserID:               change.UserID,
			Tier:                 change.Tier,
			Status:               change.Status,
			StripeSubscriptionID: change.StripeSubscriptionID,
			Source:               change.Source,
		},
	}
	if err := w.outbox.Emit(ctx, tx, event); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit entitlement event")
	}
	return true, nil
}
