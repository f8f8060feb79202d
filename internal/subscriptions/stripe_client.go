package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/vodstream/vod-backend/pkg/stripe"
)

// StripeSubscriptionClient exposes the Stripe subscription reads the synchronizer needs.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripeClientWrapper struct{}

// NewStripeClient returns a client bound to the configured Stripe key.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	return subscription.Get(id, params)
}
