package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/realtime"
)

// MemoryStore keeps every table in process. Writes are published as
// realtime changes when a publisher is attached, so a local run behaves
// like a backend with change notifications enabled.
type MemoryStore struct {
	mu        sync.RWMutex
	profiles  map[string]models.Profile
	rides     map[string]models.Ride
	ratings   map[string]models.Rating
	payments  map[string]models.Payment
	locations map[string]models.DriverLocation

	pub realtime.Publisher
	now func() time.Time
}

func NewMemoryStore(pub realtime.Publisher) *MemoryStore {
	return &MemoryStore{
		profiles:  map[string]models.Profile{},
		rides:     map[string]models.Ride{},
		ratings:   map[string]models.Rating{},
		payments:  map[string]models.Payment{},
		locations: map[string]models.DriverLocation{},
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Ping(context.Context) error { return nil }

// MissingTables reports nothing missing; every table exists in memory.
func (m *MemoryStore) MissingTables(context.Context, []string) ([]string, error) { return nil, nil }

func (m *MemoryStore) publish(table string, typ realtime.ChangeType, record any) {
	if m.pub == nil {
		return
	}
	c, err := realtime.NewChange(table, typ, record)
	if err != nil {
		return
	}
	m.pub.Publish(c)
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) CreateProfile(_ context.Context, p models.Profile) (*models.Profile, error) {
	m.mu.Lock()
	if _, ok := m.profiles[p.ID]; ok {
		m.mu.Unlock()
		return nil, ErrDuplicate
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = p
	m.mu.Unlock()

	m.publish(realtime.TableProfiles, realtime.Insert, p)
	return &p, nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, id string, u ProfileUpdate) (*models.Profile, error) {
	m.mu.Lock()
	p, ok := m.profiles[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	p.FullName, p.Email, p.Phone = u.FullName, u.Email, u.Phone
	p.UpdatedAt = m.now()
	m.profiles[id] = p
	m.mu.Unlock()

	m.publish(realtime.TableProfiles, realtime.Update, p)
	return &p, nil
}

func (m *MemoryStore) CreateRide(_ context.Context, nr models.NewRide) (*models.Ride, error) {
	now := m.now()
	r := models.Ride{
		ID:             uuid.NewString(),
		RiderID:        nr.RiderID,
		PickupAddress:  nr.PickupAddress,
		DropoffAddress: nr.DropoffAddress,
		PickupLat:      nr.Pickup.Lat,
		PickupLng:      nr.Pickup.Lng,
		DropoffLat:     nr.Dropoff.Lat,
		DropoffLng:     nr.Dropoff.Lng,
		Status:         models.StatusRequested,
		EstimatedFare:  nr.EstimatedFare,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Lock()
	m.rides[r.ID] = r
	m.mu.Unlock()

	m.publish(realtime.TableRides, realtime.Insert, r)
	return &r, nil
}

func (m *MemoryStore) GetRide(_ context.Context, id, riderID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok || r.RiderID != riderID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) CancelRide(_ context.Context, id, riderID string) (*models.Ride, error) {
	m.mu.Lock()
	r, ok := m.rides[id]
	if !ok || r.RiderID != riderID || r.Status != models.StatusRequested {
		m.mu.Unlock()
		return nil, ErrConflict
	}
	r.Status = models.StatusCancelled
	r.UpdatedAt = m.now()
	m.rides[id] = r
	m.mu.Unlock()

	m.publish(realtime.TableRides, realtime.Update, r)
	return &r, nil
}

// PutRide overwrites a ride row the way the dispatch side of the backend
// would when it assigns a driver or advances the trip.
func (m *MemoryStore) PutRide(r models.Ride) {
	m.mu.Lock()
	_, existed := m.rides[r.ID]
	r.UpdatedAt = m.now()
	m.rides[r.ID] = r
	m.mu.Unlock()

	typ := realtime.Update
	if !existed {
		typ = realtime.Insert
	}
	m.publish(realtime.TableRides, typ, r)
}

func (m *MemoryStore) RideHistory(_ context.Context, riderID string, limit int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.HistoryEntry{}
	for _, r := range m.rides {
		if r.RiderID != riderID {
			continue
		}
		e := models.HistoryEntry{Ride: r}
		if d := r.AssignedDriver(); d != "" {
			e.DriverName = m.profiles[d].FullName
		}
		if rt, ok := m.ratings[ratingKey(r.ID, riderID)]; ok {
			rt := rt
			e.Rating = &rt
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ride.CreatedAt.After(out[j].Ride.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func ratingKey(rideID, from string) string { return rideID + "/" + from }

func (m *MemoryStore) InsertRating(_ context.Context, r models.Rating) (*models.Rating, error) {
	key := ratingKey(r.RideID, r.FromUserID)
	m.mu.Lock()
	if _, ok := m.ratings[key]; ok {
		m.mu.Unlock()
		return nil, ErrDuplicate
	}
	r.ID = uuid.NewString()
	r.CreatedAt = m.now()
	m.ratings[key] = r
	m.mu.Unlock()

	m.publish(realtime.TableRatings, realtime.Insert, r)
	return &r, nil
}

func (m *MemoryStore) GetRating(_ context.Context, rideID, fromUserID string) (*models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[ratingKey(rideID, fromUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) LatestPayment(_ context.Context, rideID string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Payment
	for _, p := range m.payments {
		if p.RideID != rideID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) InsertPayment(_ context.Context, p models.Payment) (*models.Payment, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = m.now()
	m.mu.Lock()
	m.payments[p.ID] = p
	m.mu.Unlock()

	m.publish(realtime.TablePayments, realtime.Insert, p)
	return &p, nil
}

func (m *MemoryStore) SetPaymentStatus(_ context.Context, externalSessionID string, status models.PaymentStatus) (*models.Payment, error) {
	m.mu.Lock()
	var found *models.Payment
	for id, p := range m.payments {
		if p.ExternalSessionID == externalSessionID && externalSessionID != "" {
			p.Status = status
			m.payments[id] = p
			found = &p
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, ErrNotFound
	}
	m.publish(realtime.TablePayments, realtime.Update, *found)
	return found, nil
}

func (m *MemoryStore) GetDriverLocation(_ context.Context, driverID string) (*models.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.locations[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// PutDriverLocation upserts the single location row for a driver.
func (m *MemoryStore) PutDriverLocation(d models.DriverLocation) {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = m.now()
	}
	m.mu.Lock()
	_, existed := m.locations[d.DriverID]
	m.locations[d.DriverID] = d
	m.mu.Unlock()

	typ := realtime.Update
	if !existed {
		typ = realtime.Insert
	}
	m.publish(realtime.TableDriverLocations, typ, d)
}
