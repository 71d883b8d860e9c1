// Package payments creates hosted checkout sessions for ride fares and
// applies the provider's webhook outcomes to the payments table.
package payments

import (
	"context"
	"fmt"
	"math"
	"strings"
)

type CheckoutRequest struct {
	RideID         string
	RiderID        string
	PickupAddress  string
	DropoffAddress string
	Amount         float64
	Currency       string
	Origin         string
}

// Cents converts a major-unit amount to the smallest currency unit.
func (r CheckoutRequest) Cents() int64 { return int64(math.Round(r.Amount * 100)) }

func (r CheckoutRequest) ProductName() string {
	return fmt.Sprintf("Ride - %s to %s", r.PickupAddress, r.DropoffAddress)
}

func (r CheckoutRequest) SuccessURL() string { return r.returnURL("success") }
func (r CheckoutRequest) CancelURL() string  { return r.returnURL("cancelled") }

func (r CheckoutRequest) returnURL(outcome string) string {
	return fmt.Sprintf("%s/ride/%s?payment=%s", strings.TrimRight(r.Origin, "/"), r.RideID, outcome)
}

type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Gateway creates hosted checkout sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}
