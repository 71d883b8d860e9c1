package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-passenger/internal/models"
)

// ErrNoLocation is returned when no location is cached for a driver.
var ErrNoLocation = errors.New("no cached driver location")

// RedisLocations caches the last known location of each driver using Redis
// GEO commands plus a metadata hash.
type RedisLocations struct {
	client *redis.Client
	key    string
}

// NewRedisLocationsFromClient shares an existing client.
func NewRedisLocationsFromClient(c *redis.Client, key string) *RedisLocations {
	return &RedisLocations{client: c, key: key}
}

func (r *RedisLocations) Put(ctx context.Context, d models.DriverLocation) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Lng, Latitude: d.Lat, Name: d.DriverID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.DriverID, err)
	}
	meta := map[string]interface{}{
		"lat":     strconv.FormatFloat(d.Lat, 'f', -1, 64),
		"lng":     strconv.FormatFloat(d.Lng, 'f', -1, 64),
		"updated": d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if d.Heading != nil {
		meta["heading"] = strconv.FormatFloat(*d.Heading, 'f', -1, 64)
	}
	if d.SpeedKmh != nil {
		meta["speed_kmh"] = strconv.FormatFloat(*d.SpeedKmh, 'f', -1, 64)
	}
	if err := r.client.HSet(ctx, metaKey(d.DriverID), meta).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", d.DriverID, err)
	}
	return nil
}

func (r *RedisLocations) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNoLocation
	}
	d := &models.DriverLocation{DriverID: driverID}
	if d.Lat, err = strconv.ParseFloat(m["lat"], 64); err != nil {
		return nil, fmt.Errorf("bad lat for %s: %w", driverID, err)
	}
	if d.Lng, err = strconv.ParseFloat(m["lng"], 64); err != nil {
		return nil, fmt.Errorf("bad lng for %s: %w", driverID, err)
	}
	if v, ok := m["heading"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Heading = &f
		}
	}
	if v, ok := m["speed_kmh"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.SpeedKmh = &f
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, m["updated"]); err == nil {
		d.UpdatedAt = t
	}
	return d, nil
}

func (r *RedisLocations) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:location:" + id }
