package tracking

import (
	"context"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/payments"
)

// guard checks ok against the current state and returns the identifiers an
// action needs.
func (v *ViewModel) guard(ok func() bool) (rideID, riderID string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return "", "", ErrClosed
	}
	if !v.loaded || !ok() {
		return "", "", ErrActionNotAllowed
	}
	return v.ride.ID, v.riderID, nil
}

// Cancel cancels a ride that is still REQUESTED. The call is made once; a
// failure is returned for the rider to decide on.
func (v *ViewModel) Cancel(ctx context.Context) error {
	rideID, riderID, err := v.guard(func() bool { return CanCancel(v.ride) })
	if err != nil {
		return err
	}
	ride, err := v.deps.Backend.CancelRide(backend.WithoutRetry(ctx), rideID, riderID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if !v.live() {
		v.mu.Unlock()
		return nil
	}
	// the realtime update may have landed first and already told the rider
	var notice *Notice
	if v.ride.Status != models.StatusCancelled {
		notice = &Notice{Level: NoticeSuccess, Message: msgRideCancelled}
	}
	if ride != nil {
		v.ride = *ride
	} else {
		v.ride.Status = models.StatusCancelled
	}
	v.commitLocked(notice)
	return nil
}

// Pay opens a checkout session for the ride. origin is the base URL the
// payment provider returns the rider to.
func (v *ViewModel) Pay(ctx context.Context, origin string) (payments.CheckoutSession, error) {
	rideID, riderID, err := v.guard(func() bool { return ShowPaymentAction(v.ride, v.payment) })
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	if v.deps.Checkout == nil {
		return payments.CheckoutSession{}, apperrors.Network("PAYMENT_UNAVAILABLE", apperrors.MsgPaymentUnavailable)
	}
	return v.deps.Checkout.StartCheckout(backend.WithoutRetry(ctx), rideID, riderID, origin)
}

// Rate submits the rider's rating of the driver. score is validated as an
// integer from 1 to 5.
func (v *ViewModel) Rate(ctx context.Context, score any, note string) (*models.Rating, error) {
	var driverID string
	rideID, riderID, err := v.guard(func() bool {
		driverID = v.ride.AssignedDriver()
		return ShowRatingAction(v.ride, v.rating) && driverID != ""
	})
	if err != nil {
		return nil, err
	}
	r, err := v.deps.Backend.SubmitRating(backend.WithoutRetry(ctx), backend.RatingInput{
		RideID:     rideID,
		FromUserID: riderID,
		ToUserID:   driverID,
		Score:      score,
		Note:       note,
	})
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if !v.live() {
		v.mu.Unlock()
		return r, nil
	}
	v.rating = r
	v.promptOpen = false
	v.commitLocked(&Notice{Level: NoticeSuccess, Message: msgRatingSubmitted})
	return r, nil
}

// OpenRatingPrompt shows the rating dialog on demand.
func (v *ViewModel) OpenRatingPrompt() error {
	if _, _, err := v.guard(func() bool { return ShowRatingAction(v.ride, v.rating) }); err != nil {
		return err
	}
	v.mu.Lock()
	if !v.live() {
		v.mu.Unlock()
		return ErrClosed
	}
	v.promptOpen = true
	v.commitLocked(nil)
	return nil
}

func (v *ViewModel) DismissRatingPrompt() {
	v.mu.Lock()
	if !v.live() || !v.promptOpen {
		v.mu.Unlock()
		return
	}
	v.promptOpen = false
	v.commitLocked(nil)
}

func (v *ViewModel) OpenReceipt() error {
	if _, _, err := v.guard(func() bool { return ShowReceipt(v.payment) }); err != nil {
		return err
	}
	v.mu.Lock()
	if !v.live() {
		v.mu.Unlock()
		return ErrClosed
	}
	v.receiptOpen = true
	v.commitLocked(nil)
	return nil
}

func (v *ViewModel) CloseReceipt() {
	v.mu.Lock()
	if !v.live() || !v.receiptOpen {
		v.mu.Unlock()
		return
	}
	v.receiptOpen = false
	v.commitLocked(nil)
}
