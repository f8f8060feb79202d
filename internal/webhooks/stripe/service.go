package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/vodstream/vod-backend/internal/profiles"
	"github.com/vodstream/vod-backend/internal/subscriptions"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/outbox/payloads"
)

// Outcome classifies what a handled event did to the store.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

const metadataUserID = "user_id"

type entitlementApplier interface {
	Apply(ctx context.Context, tx *gorm.DB, change profiles.EntitlementChange) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Subscriptions     *subscriptions.Repository
	Profiles          *profiles.Repository
	Entitlements      entitlementApplier
	StripeClient      subscriptions.StripeSubscriptionClient
	Prices            subscriptions.PriceTable
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service applies verified Stripe events to subscriptions and profile entitlements.
// Every transition is keyed by the provider subscription id, so redelivery converges.
type Service struct {
	subs         *subscriptions.Repository
	profiles     *profiles.Repository
	entitlements entitlementApplier
	stripe       subscriptions.StripeSubscriptionClient
	prices       subscriptions.PriceTable
	txRunner     txRunner
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repo required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement writer required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &Service{
		subs:         params.Subscriptions,
		profiles:     params.Profiles,
		entitlements: params.Entitlements,
		stripe:       params.StripeClient,
		prices:       params.Prices,
		txRunner:     params.TransactionRunner,
		logg:         params.Logger,
	}, nil
}

// HandleEvent dispatches on the event type. Unsupported types are ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		return s.checkoutCompleted(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return OutcomeIgnored, err
		}
		return s.subscriptionUpdated(ctx, stripeSub, payloads.SourceSubscriptionUpdated)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return OutcomeIgnored, err
		}
		return s.subscriptionDeleted(ctx, stripeSub.ID, payloads.SourceSubscriptionDeleted)
	default:
		s.debug(ctx, "ignoring unsupported stripe event")
		return OutcomeIgnored, nil
	}
}

// Reconcile re-reads a subscription from Stripe and applies the matching transition.
func (s *Service) Reconcile(ctx context.Context, stripeSubscriptionID string) (Outcome, error) {
	stripeSub, err := s.stripe.Get(ctx, stripeSubscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if stripeSub.Status == stripe.SubscriptionStatusCanceled {
		return s.subscriptionDeleted(ctx, stripeSub.ID, payloads.SourceReconcile)
	}
	return s.subscriptionUpdated(ctx, stripeSub, payloads.SourceReconcile)
}

func (s *Service) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (Outcome, error) {
	if session.Mode != "" && session.Mode != stripe.CheckoutSessionModeSubscription {
		s.debug(ctx, "ignoring non-subscription checkout session")
		return OutcomeIgnored, nil
	}
	rawUserID := strings.TrimSpace(session.Metadata[metadataUserID])
	if rawUserID == "" {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing user_id metadata")
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	if session.Subscription == nil || strings.TrimSpace(session.Subscription.ID) == "" {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing subscription id")
	}

	stripeSub, err := s.stripe.Get(ctx, session.Subscription.ID, &stripe.SubscriptionParams{})
	if err != nil {
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	built, err := subscriptions.BuildFromStripe(stripeSub, userID)
	if err != nil {
		return OutcomeIgnored, err
	}
	tier := s.prices.Resolve(built.StripePriceID)
	ctx = s.tag(ctx, built.StripeSubscriptionID, userID)

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.profiles.WithTx(tx).GetOrCreate(ctx, userID, customerEmail(session)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure profile")
		}
		stored, err := s.subs.WithTx(tx).Upsert(ctx, built)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert subscription")
		}
		if stored.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeConflict, "subscription belongs to another user").
				WithDetails(map[string]any{"stripe_subscription_id": stored.StripeSubscriptionID})
		}
		_, err = s.entitlements.Apply(ctx, tx, profiles.EntitlementChange{
			UserID:               userID,
			Tier:                 tier,
			Status:               enums.ProfileStatusActive,
			StripeSubscriptionID: built.StripeSubscriptionID,
			Source:               payloads.SourceCheckoutCompleted,
		})
		return err
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	s.info(ctx, "checkout completed; entitlement granted")
	return OutcomeApplied, nil
}

func (s *Service) subscriptionUpdated(ctx context.Context, stripeSub *stripe.Subscription, source string) (Outcome, error) {
	outcome := OutcomeIgnored
	tier := s.prices.Resolve(subscriptions.PriceID(stripeSub))
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subs.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if stored == nil {
			s.warn(s.tag(ctx, stripeSub.ID, uuid.Nil), "subscription update for unknown subscription")
			return nil
		}
		ctx = s.tag(ctx, stored.StripeSubscriptionID, stored.UserID)
		if err := subscriptions.ApplyStripe(stored, stripeSub); err != nil {
			return err
		}
		if err := repo.Update(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		outcome = OutcomeApplied
		status := stored.Status.ProfileStatus()
		if !isLive(status) {
			superseded, err := s.superseded(ctx, repo, stored)
			if err != nil || superseded {
				return err
			}
		}
		found, err := s.entitlements.Apply(ctx, tx, profiles.EntitlementChange{
			UserID:               stored.UserID,
			Tier:                 tier,
			Status:               status,
			StripeSubscriptionID: stored.StripeSubscriptionID,
			Source:               source,
		})
		if err != nil {
			return err
		}
		if !found {
			s.warn(ctx, "subscription owner profile missing")
		}
		return nil
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if outcome == OutcomeApplied {
		s.info(s.tag(ctx, stripeSub.ID, uuid.Nil), "subscription updated; entitlement synced")
	}
	return outcome, nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, stripeSubscriptionID, source string) (Outcome, error) {
	if strings.TrimSpace(stripeSubscriptionID) == "" {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	outcome := OutcomeIgnored
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subs.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if stored == nil {
			s.warn(s.tag(ctx, stripeSubscriptionID, uuid.Nil), "subscription deletion for unknown subscription")
			return nil
		}
		ctx = s.tag(ctx, stored.StripeSubscriptionID, stored.UserID)
		if stored.Status != enums.SubscriptionStatusCancelled {
			if err := repo.MarkCancelled(ctx, stored.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
			}
		}
		outcome = OutcomeApplied
		superseded, err := s.superseded(ctx, repo, stored)
		if err != nil || superseded {
			return err
		}
		found, err := s.entitlements.Apply(ctx, tx, profiles.EntitlementChange{
			UserID:               stored.UserID,
			Tier:                 enums.SubscriptionTierFree,
			Status:               enums.ProfileStatusCancelled,
			StripeSubscriptionID: stored.StripeSubscriptionID,
			Source:               source,
		})
		if err != nil {
			return err
		}
		if !found {
			s.warn(ctx, "subscription owner profile missing")
		}
		return nil
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if outcome == OutcomeApplied {
		s.info(s.tag(ctx, stripeSubscriptionID, uuid.Nil), "subscription deleted; entitlement synced")
	}
	return outcome, nil
}

// superseded reports whether another live subscription of the owner holds the entitlement,
// in which case a lapsing subscription must not downgrade the profile.
func (s *Service) superseded(ctx context.Context, repo *subscriptions.Repository, stored *models.Subscription) (bool, error) {
	other, err := repo.HasOtherLive(ctx, stored.UserID, stored.StripeSubscriptionID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check owner subscriptions")
	}
	if other {
		s.info(ctx, "entitlement held by another subscription; profile unchanged")
	}
	return other, nil
}

func isLive(status enums.ProfileSubscriptionStatus) bool {
	return status == enums.ProfileStatusActive || status == enums.ProfileStatusPastDue
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if strings.TrimSpace(stripeSub.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return &stripeSub, nil
}

func customerEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

func (s *Service) tag(ctx context.Context, stripeSubscriptionID string, userID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	fields := map[string]any{"stripe_subscription_id": stripeSubscriptionID}
	if userID != uuid.Nil {
		fields["user_id"] = userID.String()
	}
	return s.logg.WithFields(ctx, fields)
}

func (s *Service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
