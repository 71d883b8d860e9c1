package geo

import (
	"math"

	"github.com/example/ride-passenger/internal/models"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Bounds is a lat/lng rectangle. The zero value is empty.
type Bounds struct {
	SouthWest models.Coord `json:"south_west"`
	NorthEast models.Coord `json:"north_east"`
	set       bool
}

// Extend grows the rectangle to cover c.
func (b *Bounds) Extend(c models.Coord) {
	if !b.set {
		b.SouthWest, b.NorthEast, b.set = c, c, true
		return
	}
	b.SouthWest.Lat = math.Min(b.SouthWest.Lat, c.Lat)
	b.SouthWest.Lng = math.Min(b.SouthWest.Lng, c.Lng)
	b.NorthEast.Lat = math.Max(b.NorthEast.Lat, c.Lat)
	b.NorthEast.Lng = math.Max(b.NorthEast.Lng, c.Lng)
}

func (b Bounds) Empty() bool { return !b.set }

func (b Bounds) Contains(c models.Coord) bool {
	return b.set &&
		c.Lat >= b.SouthWest.Lat && c.Lat <= b.NorthEast.Lat &&
		c.Lng >= b.SouthWest.Lng && c.Lng <= b.NorthEast.Lng
}

func (b Bounds) Center() models.Coord {
	return models.Coord{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}
