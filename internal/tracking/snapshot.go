package tracking

import (
	"math"

	"github.com/example/ride-passenger/internal/eta"
	"github.com/example/ride-passenger/internal/format"
	"github.com/example/ride-passenger/internal/geo"
	"github.com/example/ride-passenger/internal/models"
)

type MarkerKind string

const (
	MarkerPickup  MarkerKind = "pickup"
	MarkerDropoff MarkerKind = "dropoff"
	MarkerDriver  MarkerKind = "driver"
)

type Marker struct {
	Kind     MarkerKind   `json:"kind"`
	Title    string       `json:"title"`
	Position models.Coord `json:"position"`
	// Heading is set for the driver marker when the location row has one.
	Heading *float64 `json:"heading,omitempty"`
}

// MapView is the full marker set plus the region covering it. It is always
// rebuilt from scratch.
type MapView struct {
	Markers []Marker   `json:"markers"`
	Bounds  geo.Bounds `json:"bounds"`
}

// Snapshot is the rendered state of one tracked ride. The action flags are
// derived from the rows each time a snapshot is built.
type Snapshot struct {
	Ride           models.Ride            `json:"ride"`
	Driver         *models.DriverInfo     `json:"driver,omitempty"`
	DriverLocation *models.DriverLocation `json:"driver_location,omitempty"`
	Payment        *models.Payment        `json:"payment,omitempty"`
	Rating         *models.Rating         `json:"rating,omitempty"`
	Map            MapView                `json:"map"`

	StatusLabel string `json:"status_label"`
	FareText    string `json:"fare_text"`
	// DriverETAMinutes is the straight-line estimate to the driver's next
	// stop, or 0 when unknown.
	DriverETAMinutes int `json:"driver_eta_minutes,omitempty"`

	CanCancel         bool `json:"can_cancel"`
	ShowPaymentAction bool `json:"show_payment_action"`
	ShowRatingAction  bool `json:"show_rating_action"`
	ShowReceipt       bool `json:"show_receipt"`

	RatingPromptOpen bool `json:"rating_prompt_open"`
	ReceiptOpen      bool `json:"receipt_open"`
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient message to surface alongside a snapshot.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Update is what listeners receive: the new snapshot and, when the change
// warrants one, a notice.
type Update struct {
	Snapshot Snapshot `json:"snapshot"`
	Notice   *Notice  `json:"notice,omitempty"`
}

func CanCancel(r models.Ride) bool { return r.Status == models.StatusRequested }

func ShowPaymentAction(r models.Ride, p *models.Payment) bool {
	if r.Status != models.StatusAssigned && r.Status != models.StatusStarted {
		return false
	}
	return p == nil || p.Status != models.PaymentSucceeded
}

// ShowRatingAction is true once the ride is COMPLETED and until a rating by
// the rider has been observed.
func ShowRatingAction(r models.Ride, rating *models.Rating) bool {
	return r.Status == models.StatusCompleted && rating == nil
}

func ShowReceipt(p *models.Payment) bool {
	return p != nil && p.Status == models.PaymentSucceeded
}

// BuildMap projects the ride and driver position into markers and bounds.
func BuildMap(r models.Ride, loc *models.DriverLocation) MapView {
	mv := MapView{Markers: []Marker{
		{Kind: MarkerPickup, Title: "Pickup", Position: r.Pickup()},
		{Kind: MarkerDropoff, Title: "Drop-off", Position: r.Dropoff()},
	}}
	if loc != nil {
		mv.Markers = append(mv.Markers, Marker{Kind: MarkerDriver, Title: "Driver", Position: loc.Point(), Heading: loc.Heading})
	}
	for _, m := range mv.Markers {
		mv.Bounds.Extend(m.Position)
	}
	return mv
}

func driverETA(r models.Ride, loc *models.DriverLocation, speedMps float64) int {
	if loc == nil {
		return 0
	}
	var target models.Coord
	switch r.Status {
	case models.StatusAssigned, models.StatusEnroute:
		target = r.Pickup()
	case models.StatusStarted:
		target = r.Dropoff()
	default:
		return 0
	}
	return int(math.Ceil(eta.EstimateSeconds(loc.Point(), target, speedMps) / 60))
}

func (v *ViewModel) snapshotLocked() Snapshot {
	fare := v.ride.EstimatedFare
	if v.ride.FinalFare != nil {
		fare = *v.ride.FinalFare
	}
	return Snapshot{
		Ride:             v.ride,
		Driver:           v.driver,
		DriverLocation:   v.location,
		Payment:          v.payment,
		Rating:           v.rating,
		Map:              BuildMap(v.ride, v.location),
		StatusLabel:      format.StatusLabel(v.ride.Status),
		FareText:         format.Currency(fare, v.cfg.Locale, v.cfg.Currency),
		DriverETAMinutes: driverETA(v.ride, v.location, v.cfg.SpeedMps),

		CanCancel:         CanCancel(v.ride),
		ShowPaymentAction: ShowPaymentAction(v.ride, v.payment),
		ShowRatingAction:  ShowRatingAction(v.ride, v.rating),
		ShowReceipt:       ShowReceipt(v.payment),

		RatingPromptOpen: v.promptOpen && ShowRatingAction(v.ride, v.rating),
		ReceiptOpen:      v.receiptOpen && ShowReceipt(v.payment),
	}
}
