// Package fare computes rider-facing fare estimates.
package fare

import (
	"github.com/example/ride-passenger/internal/geo"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/validation"
)

// Calculator prices a trip linearly on its great-circle distance.
type Calculator struct {
	BaseFare      float64
	PerKmRate     float64
	MinDistanceKm float64
	MaxDistanceKm float64
}

func Default() Calculator {
	return Calculator{BaseFare: 2.50, PerKmRate: 1.25, MinDistanceKm: 0.1, MaxDistanceKm: 50}
}

// Fare returns BaseFare + PerKmRate*distanceKm.
func (c Calculator) Fare(distanceKm float64) float64 {
	return c.BaseFare + c.PerKmRate*distanceKm
}

type Estimate struct {
	DistanceKm float64 `json:"distance_km"`
	Fare       float64 `json:"fare"`
}

// Estimate validates both endpoints and the trip length before pricing it.
func (c Calculator) Estimate(pickup, dropoff models.Coord) (Estimate, error) {
	if err := validation.Coordinates(pickup.Lat, pickup.Lng); err != nil {
		return Estimate{}, err
	}
	if err := validation.Coordinates(dropoff.Lat, dropoff.Lng); err != nil {
		return Estimate{}, err
	}
	d := geo.Haversine(pickup, dropoff)
	if err := validation.RideDistance(d, c.MinDistanceKm, c.MaxDistanceKm); err != nil {
		return Estimate{}, err
	}
	return Estimate{DistanceKm: d, Fare: c.Fare(d)}, nil
}
