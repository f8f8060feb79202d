package profiles

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/outbox"
	"github.com/vodstream/vod-backend/pkg/outbox/payloads"
)

type profileReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type subscriptionReader interface {
	LatestForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

type entitlementApplier interface {
	Apply(ctx context.Context, tx *gorm.DB, change EntitlementChange) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the caller-facing profile and entitlement reads plus the admin override.
type Service interface {
	Me(ctx context.Context, userID uuid.UUID) (*ProfileDTO, error)
	Entitlement(ctx context.Context, userID uuid.UUID) (*EntitlementDTO, error)
	SetEntitlement(ctx context.Context, actor outbox.ActorRef, userID uuid.UUID, input SetEntitlementInput) (*ProfileDTO, error)
}

type ServiceParams struct {
	Profiles          profileReader
	Subscriptions     subscriptionReader
	Entitlements      entitlementApplier
	TransactionRunner txRunner
}

type service struct {
	profiles      profileReader
	subscriptions subscriptionReader
	entitlements  entitlementApplier
	tx            txRunner
}

func NewService(params ServiceParams) (Service, error) {
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement writer required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &service{
		profiles:      params.Profiles,
		subscriptions: params.Subscriptions,
		entitlements:  params.Entitlements,
		tx:            params.TransactionRunner,
	}, nil
}

func (s *service) Me(ctx context.Context, userID uuid.UUID) (*ProfileDTO, error) {
	profile, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return FromModel(profile), nil
}

func (s *service) Entitlement(ctx context.Context, userID uuid.UUID) (*EntitlementDTO, error) {
	profile, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest, err := s.subscriptions.LatestForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	dto := FromModel(profile)
	return &EntitlementDTO{
		UserID:         profile.ID,
		Tier:           profile.SubscriptionTier,
		Status:         profile.SubscriptionStatus,
		Entitled:       profile.IsEntitled(),
		CustomerLinked: dto.CustomerLinked,
		Subscription:   subscriptionFromModel(latest),
	}, nil
}

func (s *service) SetEntitlement(ctx context.Context, actor outbox.ActorRef, userID uuid.UUID, input SetEntitlementInput) (*ProfileDTO, error) {
	if !input.Tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription tier")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
	}
	if actor.Role != string(enums.ProfileRoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.entitlements.Apply(ctx, tx, EntitlementChange{
			UserID: userID,
			Tier:   input.Tier,
			Status: input.Status,
			Source: payloads.SourceAdmin,
			Actor:  &actor,
		})
		if err != nil {
			return err
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Me(ctx, userID)
}

func (s *service) load(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load profile")
	}
	if profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
	}
	return profile, nil
}
