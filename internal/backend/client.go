// Package backend is the single access layer between the passenger app and
// the backend tables. Every operation validates its input, retries transient
// failures with exponential backoff and reports failures as *apperrors.Error.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/storage"
	"github.com/example/ride-passenger/internal/validation"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// LocationCache serves last known driver positions ahead of the store.
type LocationCache interface {
	Get(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

type Options struct {
	Attempts  int
	BaseDelay time.Duration
	Locations LocationCache
}

type Client struct {
	store     storage.Store
	locations LocationCache
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store storage.Store, opts Options, logger *slog.Logger) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:     store,
		locations: opts.Locations,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

type noRetryKey struct{}

// WithoutRetry marks calls made with the returned context as user initiated:
// they get exactly one attempt.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey{}).(bool)
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return true
	}
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrDuplicate) ||
		errors.Is(err, storage.ErrConflict) ||
		errors.Is(err, context.Canceled)
}

func guard[T any](ctx context.Context, fn func(context.Context) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn(ctx)
}

// call runs fn with bounded retries. The delay before attempt n+1 is
// baseDelay * 2^(n-1).
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := c.attempts
	if retryDisabled(ctx) {
		attempts = 1
	}
	delay := c.baseDelay
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			observability.BackendRetriesTotal.WithLabelValues(op).Inc()
			c.logger.Debug("backend_retry", "op", op, "attempt", i+1, "delay", delay.String(), "error", lastErr.Error())
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			delay *= 2
		}
		out, err := guard(ctx, fn)
		if err == nil {
			observability.BackendCallsTotal.WithLabelValues(op, "ok").Inc()
			return out, nil
		}
		lastErr = err
		if permanent(err) {
			break
		}
	}
	observability.BackendCallsTotal.WithLabelValues(op, "error").Inc()
	return zero, lastErr
}

func translate(err error, notFound *apperrors.Error) *apperrors.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		if notFound != nil {
			return notFound
		}
		return apperrors.NotFound("", "Not found", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Network("TIMEOUT", apperrors.MsgNetwork, err)
	}
	return apperrors.From(err)
}

func (c *Client) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	if err := validation.NotEmpty(id, "user id"); err != nil {
		return nil, err
	}
	p, err := call(ctx, c, "get_profile", func(ctx context.Context) (*models.Profile, error) {
		return c.store.GetProfile(ctx, id)
	})
	if err != nil {
		return nil, translate(err, apperrors.NotFound("PROFILE_NOT_FOUND", "Profile not found", err))
	}
	return p, nil
}

func (c *Client) CreateProfile(ctx context.Context, p models.Profile) (*models.Profile, error) {
	if err := validation.NotEmpty(p.ID, "user id"); err != nil {
		return nil, err
	}
	out, err := call(ctx, c, "create_profile", func(ctx context.Context) (*models.Profile, error) {
		return c.store.CreateProfile(ctx, p)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, apperrors.Validation("PROFILE_EXISTS", "Profile already exists", err)
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, id string, u storage.ProfileUpdate) (*models.Profile, error) {
	u.FullName = validation.SanitizeInput(u.FullName)
	if err := validation.NotEmpty(u.FullName, "full name"); err != nil {
		return nil, err
	}
	if u.Email != "" {
		if err := validation.Email(u.Email); err != nil {
			return nil, err
		}
	}
	if u.Phone != nil && *u.Phone != "" {
		if err := validation.Phone(*u.Phone); err != nil {
			return nil, err
		}
	}
	out, err := call(ctx, c, "update_profile", func(ctx context.Context) (*models.Profile, error) {
		return c.store.UpdateProfile(ctx, id, u)
	})
	if err != nil {
		return nil, translate(err, apperrors.NotFound("PROFILE_NOT_FOUND", "Profile not found", err))
	}
	return out, nil
}

func (c *Client) CreateRide(ctx context.Context, nr models.NewRide) (*models.Ride, error) {
	if err := validation.NotEmpty(nr.RiderID, "rider id"); err != nil {
		return nil, err
	}
	nr.PickupAddress = validation.SanitizeInput(nr.PickupAddress)
	nr.DropoffAddress = validation.SanitizeInput(nr.DropoffAddress)
	if nr.PickupAddress == "" || nr.DropoffAddress == "" {
		return nil, apperrors.Validation("LOCATION_REQUIRED", apperrors.MsgLocationRequired)
	}
	for _, pt := range []models.Coord{nr.Pickup, nr.Dropoff} {
		if err := validation.Coordinates(pt.Lat, pt.Lng); err != nil {
			return nil, err
		}
	}
	if nr.EstimatedFare <= 0 {
		return nil, apperrors.Validation("INVALID_FARE", "Estimated fare must be positive")
	}
	out, err := call(ctx, c, "create_ride", func(ctx context.Context) (*models.Ride, error) {
		return c.store.CreateRide(ctx, nr)
	})
	if err != nil {
		return nil, translate(err, nil)
	}
	return out, nil
}

// GetRide returns the ride only when it belongs to riderID.
func (c *Client) GetRide(ctx context.Context, id, riderID string) (*models.Ride, error) {
	if err := validation.NotEmpty(id, "ride id"); err != nil {
		return nil, err
	}
	if err := validation.NotEmpty(riderID, "rider id"); err != nil {
		return nil, err
	}
	r, err := call(ctx, c, "get_ride", func(ctx context.Context) (*models.Ride, error) {
		return c.store.GetRide(ctx, id, riderID)
	})
	if err != nil {
		return nil, translate(err, apperrors.NotFound("RIDE_NOT_FOUND", apperrors.MsgRideNotFound, err))
	}
	return r, nil
}

// CancelRide cancels a ride that is still REQUESTED. Any other state yields
// a CANNOT_CANCEL validation error.
func (c *Client) CancelRide(ctx context.Context, id, riderID string) (*models.Ride, error) {
	if err := validation.NotEmpty(id, "ride id"); err != nil {
		return nil, err
	}
	r, err := call(ctx, c, "cancel_ride", func(ctx context.Context) (*models.Ride, error) {
		return c.store.CancelRide(ctx, id, riderID)
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, apperrors.Validation("CANNOT_CANCEL", apperrors.MsgCannotCancel, err)
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return r, nil
}

func (c *Client) RideHistory(ctx context.Context, riderID string, limit int) ([]models.HistoryEntry, error) {
	if err := validation.NotEmpty(riderID, "rider id"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out, err := call(ctx, c, "ride_history", func(ctx context.Context) ([]models.HistoryEntry, error) {
		return c.store.RideHistory(ctx, riderID, limit)
	})
	if err != nil {
		return nil, translate(err, nil)
	}
	return out, nil
}

// RatingInput is a rider's rating of a driver. Score is kept loosely typed
// because it arrives from user input.
type RatingInput struct {
	RideID     string
	FromUserID string
	ToUserID   string
	Score      any
	Note       string
}

func (c *Client) SubmitRating(ctx context.Context, in RatingInput) (*models.Rating, error) {
	if err := validation.Rating(in.Score); err != nil {
		return nil, err
	}
	for _, f := range []struct{ v, name string }{{in.RideID, "ride id"}, {in.FromUserID, "rater"}, {in.ToUserID, "driver"}} {
		if err := validation.NotEmpty(f.v, f.name); err != nil {
			return nil, err
		}
	}
	score, _ := validation.IntegerValue(in.Score)
	row := models.Rating{RideID: in.RideID, FromUserID: in.FromUserID, ToUserID: in.ToUserID, Score: int(score)}
	if note := validation.SanitizeInput(in.Note); note != "" {
		row.Note = &note
	}
	out, err := call(ctx, c, "submit_rating", func(ctx context.Context) (*models.Rating, error) {
		return c.store.InsertRating(ctx, row)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, apperrors.Validation("ALREADY_RATED", apperrors.MsgAlreadyRated, err)
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return out, nil
}

// GetRating returns the rating fromUserID gave for rideID, or nil when there
// is none.
func (c *Client) GetRating(ctx context.Context, rideID, fromUserID string) (*models.Rating, error) {
	r, err := call(ctx, c, "get_rating", func(ctx context.Context) (*models.Rating, error) {
		return c.store.GetRating(ctx, rideID, fromUserID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return r, nil
}

// LatestPayment returns the newest payment of a ride, or nil when the ride
// has none.
func (c *Client) LatestPayment(ctx context.Context, rideID string) (*models.Payment, error) {
	if err := validation.NotEmpty(rideID, "ride id"); err != nil {
		return nil, err
	}
	p, err := call(ctx, c, "latest_payment", func(ctx context.Context) (*models.Payment, error) {
		return c.store.LatestPayment(ctx, rideID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return p, nil
}

func (c *Client) RecordPayment(ctx context.Context, p models.Payment) (*models.Payment, error) {
	out, err := call(ctx, c, "record_payment", func(ctx context.Context) (*models.Payment, error) {
		return c.store.InsertPayment(ctx, p)
	})
	if err != nil {
		return nil, translate(err, nil)
	}
	return out, nil
}

func (c *Client) SetPaymentStatus(ctx context.Context, sessionID string, status models.PaymentStatus) (*models.Payment, error) {
	out, err := call(ctx, c, "set_payment_status", func(ctx context.Context) (*models.Payment, error) {
		return c.store.SetPaymentStatus(ctx, sessionID, status)
	})
	if err != nil {
		return nil, translate(err, apperrors.NotFound("PAYMENT_NOT_FOUND", "Payment not found", err))
	}
	return out, nil
}

// GetDriverInfo returns the rider-visible part of a driver's profile.
func (c *Client) GetDriverInfo(ctx context.Context, driverID string) (*models.DriverInfo, error) {
	p, err := c.GetProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	info := &models.DriverInfo{ID: p.ID, FullName: p.FullName}
	if p.Phone != nil {
		info.Phone = *p.Phone
	}
	return info, nil
}

// GetDriverLocation prefers the location cache and falls back to the
// driver_locations table. A driver without a known position yields nil.
func (c *Client) GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	if err := validation.NotEmpty(driverID, "driver id"); err != nil {
		return nil, err
	}
	if c.locations != nil {
		loc, err := c.locations.Get(ctx, driverID)
		if err == nil {
			return loc, nil
		}
		c.logger.Debug("location_cache_miss", "driver_id", driverID, "error", err.Error())
	}
	loc, err := call(ctx, c, "get_driver_location", func(ctx context.Context) (*models.DriverLocation, error) {
		return c.store.GetDriverLocation(ctx, driverID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, nil)
	}
	return loc, nil
}
