package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
)

// PaymentUpdater applies a provider outcome to the stored payment.
type PaymentUpdater interface {
	SetPaymentStatus(ctx context.Context, sessionID string, status models.PaymentStatus) (*models.Payment, error)
}

// Webhook verifies Stripe event signatures and maps checkout outcomes to
// payment statuses.
type Webhook struct {
	secret   string
	payments PaymentUpdater
	logger   *slog.Logger
}

func NewWebhook(secret string, p PaymentUpdater, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{secret: secret, payments: p, logger: logger}
}

func statusFor(eventType string) (models.PaymentStatus, bool) {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return models.PaymentSucceeded, true
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		return models.PaymentFailed, true
	}
	return "", false
}

// Handle processes one webhook delivery. Unknown event types are accepted
// and ignored.
func (w *Webhook) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return apperrors.Auth("INVALID_SIGNATURE", "Invalid webhook signature", err)
	}
	if event.APIVersion != stripe.APIVersion {
		w.logger.Warn("stripe_api_version_mismatch", "event_version", event.APIVersion, "expected", stripe.APIVersion)
	}
	status, ok := statusFor(string(event.Type))
	if !ok {
		w.logger.Debug("stripe_event_ignored", "type", string(event.Type))
		return nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return apperrors.Validation("INVALID_EVENT", "Malformed webhook event", fmt.Errorf("decode checkout session: %w", err))
	}
	// a completed session paid by a delayed method stays PENDING until the
	// async_payment_succeeded or async_payment_failed event arrives
	if event.Type == "checkout.session.completed" && cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		w.logger.Info("payment_awaiting_settlement", "session_id", cs.ID, "payment_status", string(cs.PaymentStatus))
		return nil
	}
	p, err := w.payments.SetPaymentStatus(ctx, cs.ID, status)
	if err != nil {
		return err
	}
	w.logger.Info("payment_updated", "ride_id", p.RideID, "status", string(status), "event", string(event.Type))
	return nil
}
