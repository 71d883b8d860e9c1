package httpapi

import (
	"context"
	"net/http"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/fare"
	"github.com/example/ride-passenger/internal/format"
	"github.com/example/ride-passenger/internal/models"
)

const msgRideRequested = "Ride requested successfully!"

func (s *Server) handleRequestPage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"rider":              p.profile,
		"map":                s.opts.Viewport,
		"places_enabled":     s.deps.Places != nil,
		"payments_enabled":   s.deps.Payments != nil && s.deps.Payments.Enabled(),
		"stripe_public_key":  s.opts.StripePublicKey,
		"currency":           s.opts.Tracking.Currency,
		"base_fare":          s.deps.Fare.BaseFare,
		"per_km_rate":        s.deps.Fare.PerKmRate,
		"max_trip_length_km": s.deps.Fare.MaxDistanceKm,
	})
}

type estimateRequest struct {
	Pickup  *models.Coord `json:"pickup"`
	Dropoff *models.Coord `json:"dropoff"`
}

type estimateResponse struct {
	fare.Estimate
	FareText        string `json:"fare_text"`
	DistanceText    string `json:"distance_text"`
	DurationMinutes int    `json:"duration_minutes"`
	DurationText    string `json:"duration_text"`
}

func (s *Server) estimate(ctx context.Context, pickup, dropoff models.Coord) (estimateResponse, error) {
	est, err := s.deps.Fare.Estimate(pickup, dropoff)
	if err != nil {
		return estimateResponse{}, err
	}
	out := estimateResponse{
		Estimate:     est,
		FareText:     format.Currency(est.Fare, s.opts.Tracking.Locale, s.opts.Tracking.Currency),
		DistanceText: format.Distance(est.DistanceKm),
	}
	if s.deps.ETA != nil {
		out.DurationMinutes = s.deps.ETA.Minutes(ctx, pickup, dropoff)
		out.DurationText = format.Duration(out.DurationMinutes)
	}
	return out, nil
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Pickup == nil || req.Dropoff == nil {
		s.writeError(w, r, apperrors.Validation("LOCATION_REQUIRED", apperrors.MsgLocationRequired))
		return
	}
	out, err := s.estimate(r.Context(), *req.Pickup, *req.Dropoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// endpoint is one end of a requested trip. Coordinates may be omitted when
// a place id is given; they are then geocoded.
type endpoint struct {
	Address string        `json:"address"`
	PlaceID string        `json:"place_id"`
	Coord   *models.Coord `json:"coord"`
}

type rideRequest struct {
	Pickup  endpoint `json:"pickup"`
	Dropoff endpoint `json:"dropoff"`
}

func (s *Server) resolve(ctx context.Context, e endpoint) (endpoint, error) {
	if e.Coord != nil {
		return e, nil
	}
	if e.PlaceID == "" && e.Address == "" {
		return e, apperrors.Validation("LOCATION_REQUIRED", apperrors.MsgLocationRequired)
	}
	if s.deps.Places == nil {
		return e, apperrors.Validation("GEOCODING_FAILED", apperrors.MsgGeocodingFailed)
	}
	place, err := s.deps.Places.Geocode(ctx, e.PlaceID, e.Address)
	if err != nil {
		return e, err
	}
	if e.Address == "" {
		e.Address = place.Address
	}
	e.Coord = &place.Coord
	return e, nil
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var req rideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pickup, err := s.resolve(r.Context(), req.Pickup)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dropoff, err := s.resolve(r.Context(), req.Dropoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	est, err := s.deps.Fare.Estimate(*pickup.Coord, *dropoff.Coord)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.deps.Backend.CreateRide(r.Context(), models.NewRide{
		RiderID:        p.user.ID,
		PickupAddress:  pickup.Address,
		DropoffAddress: dropoff.Address,
		Pickup:         *pickup.Coord,
		Dropoff:        *dropoff.Coord,
		EstimatedFare:  est.Fare,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("ride_requested", "ride_id", ride.ID, "rider_id", p.user.ID, "distance_km", est.DistanceKm)
	writeJSON(w, http.StatusCreated, map[string]any{
		"ride":    ride,
		"message": msgRideRequested,
		"next":    "/ride/" + ride.ID,
	})
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if s.deps.Places == nil {
		s.writeError(w, r, apperrors.Network("MAPS_UNAVAILABLE", apperrors.MsgMapsUnavailable))
		return
	}
	preds, err := s.deps.Places.Autocomplete(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}
