package storage

import (
	"context"
	"errors"

	"github.com/example/ride-passenger/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate row")
	// ErrConflict reports a conditional write whose precondition did not hold.
	ErrConflict = errors.New("conflicting row state")
)

// ProfileUpdate holds the rider-editable profile fields.
type ProfileUpdate struct {
	FullName string
	Email    string
	Phone    *string
}

// Store is row-level access to the backend tables.
type Store interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
	UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*models.Profile, error)

	CreateRide(ctx context.Context, r models.NewRide) (*models.Ride, error)
	GetRide(ctx context.Context, id, riderID string) (*models.Ride, error)
	// CancelRide moves a REQUESTED ride owned by riderID to CANCELLED.
	CancelRide(ctx context.Context, id, riderID string) (*models.Ride, error)
	RideHistory(ctx context.Context, riderID string, limit int) ([]models.HistoryEntry, error)

	InsertRating(ctx context.Context, r models.Rating) (*models.Rating, error)
	GetRating(ctx context.Context, rideID, fromUserID string) (*models.Rating, error)

	LatestPayment(ctx context.Context, rideID string) (*models.Payment, error)
	InsertPayment(ctx context.Context, p models.Payment) (*models.Payment, error)
	SetPaymentStatus(ctx context.Context, externalSessionID string, status models.PaymentStatus) (*models.Payment, error)

	GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)

	Close() error
}

// Tables are the backend tables the passenger app reads and writes.
var Tables = []string{"profiles", "rides", "driver_locations", "payments", "ratings"}

// Diagnoser is implemented by stores that can report their own health.
type Diagnoser interface {
	Ping(ctx context.Context) error
	MissingTables(ctx context.Context, tables []string) ([]string, error)
}
