package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/realtime"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []realtime.Change
}

func (r *recordingPublisher) Publish(c realtime.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func newRide(rider string) models.NewRide {
	return models.NewRide{
		RiderID:        rider,
		PickupAddress:  "A",
		DropoffAddress: "B",
		Pickup:         models.Coord{Lat: -6.2, Lng: 106.8},
		Dropoff:        models.Coord{Lat: -6.25, Lng: 106.85},
		EstimatedFare:  12.5,
	}
}

func TestMemoryStoreRideScopedToRider(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	r, err := s.CreateRide(ctx, newRide("u1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.StatusRequested {
		t.Fatalf("expected REQUESTED, got %s", r.Status)
	}
	if _, err := s.GetRide(ctx, r.ID, "u1"); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := s.GetRide(ctx, r.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other rider, got %v", err)
	}
}

func TestMemoryStoreCancelOnlyRequested(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewMemoryStore(pub)
	ctx := context.Background()
	r, _ := s.CreateRide(ctx, newRide("u1"))

	assigned := *r
	assigned.Status = models.StatusAssigned
	s.PutRide(assigned)
	if _, err := s.CancelRide(ctx, r.ID, "u1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	other, _ := s.CreateRide(ctx, newRide("u1"))
	got, err := s.CancelRide(ctx, other.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	last := pub.changes[len(pub.changes)-1]
	if last.Table != realtime.TableRides || last.Type != realtime.Update {
		t.Fatalf("unexpected change %+v", last)
	}
}

func TestMemoryStoreRatingUnique(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	rt := models.Rating{RideID: "r1", FromUserID: "u1", ToUserID: "d1", Score: 5}
	if _, err := s.InsertRating(ctx, rt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertRating(ctx, rt); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.GetRating(ctx, "r1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreLatestPayment(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := base
	s.now = func() time.Time { tick = tick.Add(time.Minute); return tick }

	if _, err := s.LatestPayment(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _ = s.InsertPayment(ctx, models.Payment{RideID: "r1", Status: models.PaymentFailed, ExternalSessionID: "cs_1"})
	_, _ = s.InsertPayment(ctx, models.Payment{RideID: "r1", Status: models.PaymentPending, ExternalSessionID: "cs_2"})

	p, err := s.LatestPayment(ctx, "r1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p.ExternalSessionID != "cs_2" {
		t.Fatalf("expected newest payment, got %s", p.ExternalSessionID)
	}

	if _, err := s.SetPaymentStatus(ctx, "cs_2", models.PaymentSucceeded); err != nil {
		t.Fatalf("set status: %v", err)
	}
	p, _ = s.LatestPayment(ctx, "r1")
	if p.Status != models.PaymentSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", p.Status)
	}
	if _, err := s.SetPaymentStatus(ctx, "cs_missing", models.PaymentFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreHistoryNewestFirstWithJoins(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	tick := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { tick = tick.Add(time.Minute); return tick }

	_, _ = s.CreateProfile(ctx, models.Profile{ID: "d1", Role: models.RoleDriver, FullName: "Dana"})
	first, _ := s.CreateRide(ctx, newRide("u1"))
	second, _ := s.CreateRide(ctx, newRide("u1"))
	_, _ = s.CreateRide(ctx, newRide("someone-else"))

	done := *first
	driver := "d1"
	done.DriverID = &driver
	done.Status = models.StatusCompleted
	s.PutRide(done)
	_, _ = s.InsertRating(ctx, models.Rating{RideID: first.ID, FromUserID: "u1", ToUserID: "d1", Score: 4})

	hist, err := s.RideHistory(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].Ride.ID != second.ID {
		t.Fatalf("expected newest first")
	}
	if hist[1].DriverName != "Dana" || hist[1].Rating == nil || hist[1].Rating.Score != 4 {
		t.Fatalf("unexpected joined entry %+v", hist[1])
	}

	limited, _ := s.RideHistory(ctx, "u1", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemoryStoreDriverLocationUpsertPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewMemoryStore(pub)
	s.PutDriverLocation(models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2})
	s.PutDriverLocation(models.DriverLocation{DriverID: "d1", Lat: 3, Lng: 4})

	loc, err := s.GetDriverLocation(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loc.Lat != 3 || loc.Lng != 4 {
		t.Fatalf("expected overwritten row, got %+v", loc)
	}
	if len(pub.changes) != 2 || pub.changes[0].Type != realtime.Insert || pub.changes[1].Type != realtime.Update {
		t.Fatalf("unexpected changes %+v", pub.changes)
	}
}
