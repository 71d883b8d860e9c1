package models

import "time"

// Coord is a WGS84 point.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Profile is the application record behind an authenticated identity.
type Profile struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone"`
	PhotoURL  *string   `json:"photo_url"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RideStatus string

const (
	StatusRequested RideStatus = "REQUESTED"
	StatusAssigned  RideStatus = "ASSIGNED"
	StatusEnroute   RideStatus = "ENROUTE"
	StatusStarted   RideStatus = "STARTED"
	StatusCompleted RideStatus = "COMPLETED"
	StatusCancelled RideStatus = "CANCELLED"
)

func (s RideStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusAssigned, StatusEnroute, StatusStarted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Ride mirrors a row of the rides table. Coordinates are stored as
// separate lat/lng columns.
type Ride struct {
	ID             string     `json:"id"`
	RiderID        string     `json:"rider_id"`
	DriverID       *string    `json:"driver_id"`
	PickupAddress  string     `json:"pickup_address"`
	DropoffAddress string     `json:"dropoff_address"`
	PickupLat      float64    `json:"pickup_lat"`
	PickupLng      float64    `json:"pickup_lng"`
	DropoffLat     float64    `json:"dropoff_lat"`
	DropoffLng     float64    `json:"dropoff_lng"`
	Status         RideStatus `json:"status"`
	EstimatedFare  float64    `json:"estimated_fare"`
	FinalFare      *float64   `json:"final_fare"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (r Ride) Pickup() Coord  { return Coord{Lat: r.PickupLat, Lng: r.PickupLng} }
func (r Ride) Dropoff() Coord { return Coord{Lat: r.DropoffLat, Lng: r.DropoffLng} }

// AssignedDriver returns the driver id or "" when no driver is assigned.
func (r Ride) AssignedDriver() string {
	if r.DriverID == nil {
		return ""
	}
	return *r.DriverID
}

// NewRide is the rider-supplied part of a ride row.
type NewRide struct {
	RiderID        string  `json:"rider_id"`
	PickupAddress  string  `json:"pickup_address"`
	DropoffAddress string  `json:"dropoff_address"`
	Pickup         Coord   `json:"pickup"`
	Dropoff        Coord   `json:"dropoff"`
	EstimatedFare  float64 `json:"estimated_fare"`
}

// DriverInfo is the subset of a driver's profile shown to the rider.
type DriverInfo struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// DriverLocation is the single, continuously overwritten row per driver.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *float64  `json:"heading,omitempty"`
	SpeedKmh  *float64  `json:"speed_kmh,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d DriverLocation) Point() Coord { return Coord{Lat: d.Lat, Lng: d.Lng} }

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type Payment struct {
	ID                string        `json:"id"`
	RideID            string        `json:"ride_id"`
	RiderID           string        `json:"rider_id"`
	Amount            float64       `json:"amount"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	ExternalSessionID string        `json:"external_session_id"`
	CreatedAt         time.Time     `json:"created_at"`
}

type Rating struct {
	ID         string    `json:"id"`
	RideID     string    `json:"ride_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Score      int       `json:"score"`
	Note       *string   `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryEntry is one row of the rider's ride history with its joins.
type HistoryEntry struct {
	Ride       Ride    `json:"ride"`
	DriverName string  `json:"driver_name,omitempty"`
	Rating     *Rating `json:"rating,omitempty"`
}
