package tracking

import (
	"context"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/realtime"
)

const (
	msgRideCompleted    = "Ride completed!"
	msgRideCancelled    = "Ride cancelled"
	msgDriverAssigned   = "A driver is on the way"
	msgPaymentSucceeded = "Payment completed successfully!"
	msgRatingSubmitted  = "Thank you for your feedback!"
)

func (v *ViewModel) decode(c realtime.Change, dst any) bool {
	if err := c.Decode(dst); err != nil {
		v.logger.Warn("tracking_bad_event", "table", c.Table, "type", string(c.Type), "error", err.Error())
		return false
	}
	return true
}

func (v *ViewModel) onRide(c realtime.Change) {
	if c.Type == realtime.Delete {
		return
	}
	var r models.Ride
	if !v.decode(c, &r) {
		return
	}

	v.mu.Lock()
	if !v.live() || r.ID != v.ride.ID || r.RiderID != v.riderID {
		v.mu.Unlock()
		return
	}
	prev := v.ride
	v.ride = r

	var notice *Notice
	newDriver := r.AssignedDriver()
	if newDriver != prev.AssignedDriver() {
		v.driver, v.location = nil, nil
		if err := v.followDriverLocked(newDriver); err != nil {
			v.logger.Warn("tracking_subscribe_failed", "ride_id", r.ID, "driver_id", newDriver, "error", err.Error())
		}
		if newDriver != "" {
			go v.loadDriver(newDriver)
			if prev.AssignedDriver() == "" {
				notice = &Notice{Level: NoticeInfo, Message: msgDriverAssigned}
			}
		}
	}

	if r.Status != prev.Status {
		switch r.Status {
		case models.StatusCompleted:
			notice = &Notice{Level: NoticeSuccess, Message: msgRideCompleted}
			v.schedulePromptLocked()
		case models.StatusCancelled:
			notice = &Notice{Level: NoticeInfo, Message: msgRideCancelled}
		}
	}
	v.commitLocked(notice)
}

// schedulePromptLocked opens the rating prompt once, after the completion
// notice has had time to show.
func (v *ViewModel) schedulePromptLocked() {
	if v.promptScheduled {
		return
	}
	v.promptScheduled = true
	v.promptTimer = time.AfterFunc(v.cfg.RatingPromptDelay, func() {
		v.mu.Lock()
		if !v.live() || !ShowRatingAction(v.ride, v.rating) {
			v.mu.Unlock()
			return
		}
		v.promptOpen = true
		v.commitLocked(nil)
	})
}

// loadDriver fetches the profile and position of a newly assigned driver.
// The result is dropped if the view closed or the driver changed meanwhile.
func (v *ViewModel) loadDriver(driverID string) {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.FetchTimeout)
	defer cancel()
	info, loc := v.fetchDriver(ctx, driverID)

	v.mu.Lock()
	if !v.live() || v.ride.AssignedDriver() != driverID {
		v.mu.Unlock()
		return
	}
	v.driver = info
	// a realtime row may have landed while fetching
	if v.location == nil {
		v.location = loc
	}
	v.commitLocked(nil)
}

func (v *ViewModel) onLocation(c realtime.Change) {
	var loc models.DriverLocation
	if !v.decode(c, &loc) {
		return
	}
	v.mu.Lock()
	if !v.live() || loc.DriverID != v.ride.AssignedDriver() {
		v.mu.Unlock()
		return
	}
	if c.Type == realtime.Delete {
		v.location = nil
	} else {
		v.location = &loc
	}
	v.commitLocked(nil)
}

func (v *ViewModel) onPayment(c realtime.Change) {
	var p models.Payment
	if !v.decode(c, &p) {
		return
	}
	v.mu.Lock()
	if !v.live() || p.RideID != v.ride.ID {
		v.mu.Unlock()
		return
	}
	cur := v.payment
	if c.Type == realtime.Delete {
		if cur != nil && cur.ID == p.ID {
			v.payment = nil
			v.commitLocked(nil)
			return
		}
		v.mu.Unlock()
		return
	}
	// only the latest payment by creation time is shown
	if cur != nil && cur.ID != p.ID && p.CreatedAt.Before(cur.CreatedAt) {
		v.mu.Unlock()
		return
	}
	v.payment = &p

	var notice *Notice
	if cur == nil || cur.ID != p.ID || cur.Status != p.Status {
		switch p.Status {
		case models.PaymentSucceeded:
			notice = &Notice{Level: NoticeSuccess, Message: msgPaymentSucceeded}
		case models.PaymentFailed:
			notice = &Notice{Level: NoticeError, Message: apperrors.MsgPaymentFailed}
		}
	}
	v.commitLocked(notice)
}

func (v *ViewModel) onRating(c realtime.Change) {
	if c.Type == realtime.Delete {
		return
	}
	var r models.Rating
	if !v.decode(c, &r) {
		return
	}
	v.mu.Lock()
	if !v.live() || r.RideID != v.ride.ID || r.FromUserID != v.riderID {
		v.mu.Unlock()
		return
	}
	v.rating = &r
	v.promptOpen = false
	v.commitLocked(nil)
}
