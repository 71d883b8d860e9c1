package payments

import (
	"context"
	"log/slog"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
)

// Backend is the part of the backend access layer payments rely on.
type Backend interface {
	GetRide(ctx context.Context, id, riderID string) (*models.Ride, error)
	LatestPayment(ctx context.Context, rideID string) (*models.Payment, error)
	RecordPayment(ctx context.Context, p models.Payment) (*models.Payment, error)
	SetPaymentStatus(ctx context.Context, sessionID string, status models.PaymentStatus) (*models.Payment, error)
}

type Service struct {
	gateway  Gateway
	backend  Backend
	currency string
	logger   *slog.Logger
}

// NewService returns a Service. A nil gateway leaves payments disabled.
func NewService(g Gateway, b Backend, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: g, backend: b, currency: currency, logger: logger}
}

func (s *Service) Enabled() bool { return s.gateway != nil }

// StartCheckout opens a checkout session for a ride owned by riderID and
// records a PENDING payment for it.
func (s *Service) StartCheckout(ctx context.Context, rideID, riderID, origin string) (CheckoutSession, error) {
	if s.gateway == nil {
		return CheckoutSession{}, apperrors.Network("PAYMENT_UNAVAILABLE", apperrors.MsgPaymentUnavailable)
	}
	ride, err := s.backend.GetRide(ctx, rideID, riderID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if ride.Status == models.StatusRequested || ride.Status == models.StatusCancelled {
		return CheckoutSession{}, apperrors.Payment("PAYMENT_NOT_ALLOWED", apperrors.MsgPaymentNotAllowed)
	}
	if p, err := s.backend.LatestPayment(ctx, rideID); err != nil {
		return CheckoutSession{}, err
	} else if p != nil && p.Status == models.PaymentSucceeded {
		return CheckoutSession{}, apperrors.Payment("ALREADY_PAID", "This ride has already been paid")
	}

	amount := ride.EstimatedFare
	if ride.FinalFare != nil {
		amount = *ride.FinalFare
	}
	req := CheckoutRequest{
		RideID:         ride.ID,
		RiderID:        riderID,
		PickupAddress:  ride.PickupAddress,
		DropoffAddress: ride.DropoffAddress,
		Amount:         amount,
		Currency:       s.currency,
		Origin:         origin,
	}
	cs, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		observability.CheckoutSessions.WithLabelValues("error").Inc()
		apperrors.Log(s.logger, err, map[string]any{"ride_id": rideID, "op": "create_checkout_session"})
		return CheckoutSession{}, apperrors.Payment("", apperrors.MsgPaymentFailed, err)
	}
	observability.CheckoutSessions.WithLabelValues("created").Inc()

	if _, err := s.backend.RecordPayment(ctx, models.Payment{
		RideID:            ride.ID,
		RiderID:           riderID,
		Amount:            amount,
		Currency:          s.currency,
		Status:            models.PaymentPending,
		ExternalSessionID: cs.ID,
	}); err != nil {
		return CheckoutSession{}, err
	}
	return cs, nil
}
