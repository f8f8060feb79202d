package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/vodstream/vod-backend/internal/subscriptions"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db/models"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

const (
	successPath = "/subscription/success?session_id={CHECKOUT_SESSION_ID}"
	cancelPath  = "/subscription/cancel"
	returnPath  = "/subscription"
)

type profileStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) (bool, error)
}

// CheckoutSessionDTO is returned to the client to redirect into hosted checkout.
type CheckoutSessionDTO struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalSessionDTO is returned to the client to redirect into the billing portal.
type PortalSessionDTO struct {
	URL string `json:"url"`
}

// Service creates hosted checkout and billing portal sessions for a profile.
type Service interface {
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email, priceID string) (*CheckoutSessionDTO, error)
	CreatePortalSession(ctx context.Context, userID uuid.UUID) (*PortalSessionDTO, error)
}

type ServiceParams struct {
	Profiles profileStore
	Stripe   StripeClient
	Prices   subscriptions.PriceTable
	Frontend config.FrontendConfig
	Logger   *logger.Logger
}

type service struct {
	profiles profileStore
	stripe   StripeClient
	prices   subscriptions.PriceTable
	frontend config.FrontendConfig
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repo required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Prices.Len() == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one stripe price id required")
	}
	return &service{
		profiles: params.Profiles,
		stripe:   params.Stripe,
		prices:   params.Prices,
		frontend: params.Frontend,
		logg:     params.Logger,
	}, nil
}

func (s *service) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email, priceID string) (*CheckoutSessionDTO, error) {
	priceID = strings.TrimSpace(priceID)
	if !s.prices.Contains(priceID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid price id")
	}
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, profile, email)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID.String()),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.frontend.URL(successPath)),
		CancelURL:  stripe.String(s.frontend.URL(cancelPath)),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID.String()},
		},
	}
	params.AddMetadata("user_id", userID.String())

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":             userID.String(),
			"checkout_session_id": session.ID,
			"price_id":            priceID,
		})
		s.logg.Info(logCtx, "checkout session created")
	}
	return &CheckoutSessionDTO{SessionID: session.ID, URL: session.URL}, nil
}

func (s *service) CreatePortalSession(ctx context.Context, userID uuid.UUID) (*PortalSessionDTO, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.StripeCustomerID == nil || *profile.StripeCustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no billing customer for user")
	}
	session, err := s.stripe.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*profile.StripeCustomerID),
		ReturnURL: stripe.String(s.frontend.URL(returnPath)),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	return &PortalSessionDTO{URL: session.URL}, nil
}

func (s *service) loadProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
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

// ensureCustomer returns the profile's billing customer, creating and storing one on first use.
// A concurrent request may win the conditional write; its stored id is used instead.
func (s *service) ensureCustomer(ctx context.Context, profile *models.Profile, email string) (string, error) {
	if profile.StripeCustomerID != nil && *profile.StripeCustomerID != "" {
		return *profile.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{}
	if email = strings.TrimSpace(email); email != "" {
		params.Email = stripe.String(email)
	} else if profile.Email != nil {
		params.Email = stripe.String(*profile.Email)
	}
	params.AddMetadata("user_id", profile.ID.String())
	params.SetIdempotencyKey("customer-create-" + profile.ID.String())

	created, err := s.stripe.CreateCustomer(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}

	wrote, err := s.profiles.SetStripeCustomerIDIfEmpty(ctx, profile.ID, created.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store stripe customer id")
	}
	if wrote {
		return created.ID, nil
	}
	reloaded, err := s.loadProfile(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	if reloaded.StripeCustomerID == nil || *reloaded.StripeCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeConflict, "stripe customer id not stored")
	}
	return *reloaded.StripeCustomerID, nil
}
