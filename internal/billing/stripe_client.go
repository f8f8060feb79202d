package billing

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"

	pkgstripe "github.com/vodstream/vod-backend/pkg/stripe"
)

// StripeClient exposes the Stripe calls behind checkout and the billing portal.
type StripeClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type stripeClientWrapper struct{}

// NewStripeClient returns a client bound to the configured Stripe key.
func NewStripeClient(api *pkgstripe.Client) StripeClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params != nil {
		params.Context = ctx
	}
	return customer.New(params)
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return checkoutsession.New(params)
}

func (w *stripeClientWrapper) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return portalsession.New(params)
}
