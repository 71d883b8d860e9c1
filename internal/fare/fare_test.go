package fare

import (
	"math"
	"strings"
	"testing"

	"github.com/example/ride-passenger/internal/format"
	"github.com/example/ride-passenger/internal/models"
)

func TestFareIsLinear(t *testing.T) {
	c := Default()
	for _, d := range []float64{0, 0.1, 1, 5, 12.5, 50} {
		want := 2.50 + 1.25*d
		if got := c.Fare(d); math.Abs(got-want) > 1e-9 {
			t.Fatalf("fare(%v) = %v, want %v", d, got, want)
		}
	}
}

func TestFareStrictlyIncreasing(t *testing.T) {
	c := Default()
	prev := c.Fare(0)
	for d := 0.25; d <= 50; d += 0.25 {
		f := c.Fare(d)
		if f <= prev {
			t.Fatalf("fare not increasing at %v: %v <= %v", d, f, prev)
		}
		prev = f
	}
}

func TestFiveKilometreScenario(t *testing.T) {
	c := Default()
	got := c.Fare(5.0)
	if math.Abs(got-8.75) > 1e-9 {
		t.Fatalf("expected 8.75, got %v", got)
	}
	if s := format.Currency(got, "en-US", "USD"); !strings.Contains(s, "8.75") {
		t.Fatalf("formatted fare %q does not show 8.75", s)
	}
}

func TestEstimateRejectsOutOfRange(t *testing.T) {
	c := Default()
	p := models.Coord{Lat: -6.2088, Lng: 106.8456}
	if _, err := c.Estimate(p, p); err == nil {
		t.Fatal("expected too-short distance error")
	}
	far := models.Coord{Lat: -7.2575, Lng: 112.7521} // Surabaya
	if _, err := c.Estimate(p, far); err == nil {
		t.Fatal("expected too-long distance error")
	}
	if _, err := c.Estimate(models.Coord{Lat: 95, Lng: 0}, p); err == nil {
		t.Fatal("expected latitude error")
	}
	near := models.Coord{Lat: -6.1754, Lng: 106.8272}
	est, err := c.Estimate(p, near)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.DistanceKm <= 0 || est.Fare != c.Fare(est.DistanceKm) {
		t.Fatalf("unexpected estimate %+v", est)
	}
}
