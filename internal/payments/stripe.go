package payments

import (
	"context"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
)

// StripeGateway creates Stripe Checkout sessions.
type StripeGateway struct{}

// NewStripeGateway sets the package-level stripe key used by stripe-go.
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{}
}

func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.ProductName()),
						Description: stripe.String("Ride ID: " + req.RideID),
					},
					UnitAmount: stripe.Int64(req.Cents()),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL()),
		CancelURL:  stripe.String(req.CancelURL()),
	}
	params.Context = ctx
	params.AddMetadata("ride_id", req.RideID)
	params.AddMetadata("rider_id", req.RiderID)

	cs, err := session.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}
