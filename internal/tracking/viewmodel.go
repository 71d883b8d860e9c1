// Package tracking holds the view-model behind the ride tracking screen.
//
// A ViewModel owns the state of one ride: the ride row, its latest payment,
// the rider's rating, the assigned driver and the driver's last position.
// Rows arrive from realtime subscriptions and always replace the local copy
// whole. Action flags are derived from the rows whenever a snapshot is built.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/payments"
	"github.com/example/ride-passenger/internal/realtime"
)

var (
	ErrNotFound         = errors.New("ride not found")
	ErrActionNotAllowed = errors.New("action not allowed in the current ride state")
	ErrClosed           = errors.New("tracking view closed")
)

const DefaultRatingPromptDelay = time.Second

// Backend is the slice of the backend access layer the view-model uses.
type Backend interface {
	GetRide(ctx context.Context, id, riderID string) (*models.Ride, error)
	CancelRide(ctx context.Context, id, riderID string) (*models.Ride, error)
	LatestPayment(ctx context.Context, rideID string) (*models.Payment, error)
	GetRating(ctx context.Context, rideID, fromUserID string) (*models.Rating, error)
	SubmitRating(ctx context.Context, in backend.RatingInput) (*models.Rating, error)
	GetDriverInfo(ctx context.Context, driverID string) (*models.DriverInfo, error)
	GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

type Checkout interface {
	StartCheckout(ctx context.Context, rideID, riderID, origin string) (payments.CheckoutSession, error)
}

type Deps struct {
	Backend  Backend
	Feed     realtime.Feed
	Checkout Checkout // optional
	Logger   *slog.Logger
}

type Config struct {
	RatingPromptDelay time.Duration
	Currency          string
	Locale            string
	SpeedMps          float64
	FetchTimeout      time.Duration
}

func (c *Config) defaults() {
	if c.RatingPromptDelay <= 0 {
		c.RatingPromptDelay = DefaultRatingPromptDelay
	}
	if c.Currency == "" {
		c.Currency = "ZAR"
	}
	if c.Locale == "" {
		c.Locale = "en-ZA"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

type Listener func(Update)

type ViewModel struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	loaded   bool
	closed   bool
	riderID  string
	ride     models.Ride
	driver   *models.DriverInfo
	location *models.DriverLocation
	payment  *models.Payment
	rating   *models.Rating

	promptOpen      bool
	promptScheduled bool
	promptTimer     *time.Timer
	receiptOpen     bool

	subs      []realtime.Subscription
	locSub    realtime.Subscription
	locDriver string

	// emitMu keeps listener calls in the order the state changed.
	emitMu    sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(deps Deps, cfg Config) *ViewModel {
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewModel{deps: deps, cfg: cfg, logger: logger, listeners: map[int]Listener{}}
}

// Load fetches the ride scoped to riderID and starts following it. A ride
// that does not exist or belongs to someone else yields ErrNotFound and
// leaves the view without state.
func (v *ViewModel) Load(ctx context.Context, rideID, riderID string) error {
	ride, err := v.deps.Backend.GetRide(ctx, rideID, riderID)
	if err != nil {
		var ae *apperrors.Error
		if errors.As(err, &ae) && (ae.Kind == apperrors.KindNotFound || ae.Kind == apperrors.KindValidation) {
			return ErrNotFound
		}
		return err
	}

	payment, err := v.deps.Backend.LatestPayment(ctx, ride.ID)
	if err != nil {
		v.logger.Warn("tracking_seed_failed", "ride_id", ride.ID, "what", "payment", "error", err.Error())
	}
	rating, err := v.deps.Backend.GetRating(ctx, ride.ID, riderID)
	if err != nil {
		v.logger.Warn("tracking_seed_failed", "ride_id", ride.ID, "what", "rating", "error", err.Error())
	}
	var driver *models.DriverInfo
	var loc *models.DriverLocation
	if id := ride.AssignedDriver(); id != "" {
		driver, loc = v.fetchDriver(ctx, id)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.loaded {
		v.mu.Unlock()
		return errors.New("tracking view already loaded")
	}
	v.loaded = true
	v.riderID = riderID
	v.ride = *ride
	v.payment, v.rating = payment, rating
	v.driver, v.location = driver, loc
	if err := v.subscribeLocked(); err != nil {
		v.releaseLocked()
		v.loaded = false
		v.mu.Unlock()
		return err
	}
	v.mu.Unlock()

	observability.TrackedRides.Inc()
	v.logger.Info("tracking_started", "ride_id", ride.ID, "status", string(ride.Status))
	return nil
}

func (v *ViewModel) subscribeLocked() error {
	id := v.ride.ID
	filters := []struct {
		f realtime.Filter
		h realtime.Handler
	}{
		{realtime.Filter{Table: realtime.TableRides, Column: "id", Value: id}, v.onRide},
		{realtime.Filter{Table: realtime.TablePayments, Column: "ride_id", Value: id}, v.onPayment},
		{realtime.Filter{Table: realtime.TableRatings, Column: "ride_id", Value: id}, v.onRating},
	}
	for _, s := range filters {
		sub, err := v.deps.Feed.Subscribe(s.f, s.h)
		if err != nil {
			return err
		}
		v.subs = append(v.subs, sub)
	}
	return v.followDriverLocked(v.ride.AssignedDriver())
}

// followDriverLocked points the location subscription at driverID,
// releasing any previous one.
func (v *ViewModel) followDriverLocked(driverID string) error {
	if driverID == v.locDriver && (v.locSub != nil || driverID == "") {
		return nil
	}
	if v.locSub != nil {
		v.locSub.Unsubscribe()
		v.locSub = nil
	}
	v.locDriver = driverID
	if driverID == "" {
		return nil
	}
	sub, err := v.deps.Feed.Subscribe(realtime.Filter{Table: realtime.TableDriverLocations, Column: "driver_id", Value: driverID}, v.onLocation)
	if err != nil {
		return err
	}
	v.locSub = sub
	return nil
}

func (v *ViewModel) fetchDriver(ctx context.Context, driverID string) (*models.DriverInfo, *models.DriverLocation) {
	info, err := v.deps.Backend.GetDriverInfo(ctx, driverID)
	if err != nil {
		v.logger.Warn("tracking_seed_failed", "driver_id", driverID, "what", "driver", "error", err.Error())
		info = nil
	}
	loc, err := v.deps.Backend.GetDriverLocation(ctx, driverID)
	if err != nil {
		v.logger.Warn("tracking_seed_failed", "driver_id", driverID, "what", "location", "error", err.Error())
		loc = nil
	}
	return info, loc
}

// Snapshot returns the current state. It is the zero Snapshot before Load.
func (v *ViewModel) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		return Snapshot{}
	}
	return v.snapshotLocked()
}

// Watch registers fn for updates and returns a func that removes it.
// Listeners must not call back into the view-model's actions.
func (v *ViewModel) Watch(fn Listener) (cancel func()) {
	v.emitMu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.emitMu.Unlock()
	return func() {
		v.emitMu.Lock()
		delete(v.listeners, id)
		v.emitMu.Unlock()
	}
}

// commitLocked publishes the current state. It must be called with v.mu
// held and releases it.
func (v *ViewModel) commitLocked(n *Notice) {
	u := Update{Snapshot: v.snapshotLocked(), Notice: n}
	v.emitMu.Lock()
	v.mu.Unlock()
	defer v.emitMu.Unlock()
	for _, l := range v.listeners {
		l(u)
	}
}

// Close releases every subscription and the prompt timer. Events and fetch
// results that arrive afterwards are dropped.
func (v *ViewModel) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	wasLoaded := v.loaded
	v.releaseLocked()
	v.mu.Unlock()

	v.emitMu.Lock()
	v.listeners = map[int]Listener{}
	v.emitMu.Unlock()
	if wasLoaded {
		observability.TrackedRides.Dec()
	}
}

func (v *ViewModel) releaseLocked() {
	for _, s := range v.subs {
		s.Unsubscribe()
	}
	v.subs = nil
	if v.locSub != nil {
		v.locSub.Unsubscribe()
		v.locSub = nil
	}
	v.locDriver = ""
	if v.promptTimer != nil {
		v.promptTimer.Stop()
		v.promptTimer = nil
	}
}

// live reports whether events should still be applied. Callers hold v.mu.
func (v *ViewModel) live() bool { return v.loaded && !v.closed }
