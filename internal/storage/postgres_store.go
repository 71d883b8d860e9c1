package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-passenger/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}


func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MissingTables returns the names in tables that do not exist in the
// current schema.
func (p *PostgresStore) MissingTables(ctx context.Context, tables []string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		pq.Array(tables))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, t := range tables {
		if !found[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const profileColumns = `id, role, full_name, phone, photo_url, email, created_at, updated_at`

func scanProfile(s scanner) (*models.Profile, error) {
	var pr models.Profile
	var phone, photo sql.NullString
	if err := s.Scan(&pr.ID, &pr.Role, &pr.FullName, &phone, &photo, &pr.Email, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	pr.Phone = nullString(phone)
	pr.PhotoURL = nullString(photo)
	return &pr, nil
}

func (p *PostgresStore) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	return scanProfile(row)
}

func (p *PostgresStore) CreateProfile(ctx context.Context, pr models.Profile) (*models.Profile, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO profiles(id, role, full_name, phone, photo_url, email) VALUES($1,$2,$3,$4,$5,$6) RETURNING `+profileColumns,
		pr.ID, pr.Role, pr.FullName, pr.Phone, pr.PhotoURL, pr.Email)
	out, err := scanProfile(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	return out, err
}

func (p *PostgresStore) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*models.Profile, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE profiles SET full_name=$1, email=$2, phone=$3, updated_at=now() WHERE id=$4 RETURNING `+profileColumns,
		u.FullName, u.Email, u.Phone, id)
	return scanProfile(row)
}

const rideColumns = `id, rider_id, driver_id, pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, status, estimated_fare, final_fare, created_at, updated_at`

func rideDest(r *models.Ride, driver *sql.NullString, final *sql.NullFloat64) []any {
	return []any{&r.ID, &r.RiderID, driver, &r.PickupAddress, &r.DropoffAddress, &r.PickupLat, &r.PickupLng,
		&r.DropoffLat, &r.DropoffLng, &r.Status, &r.EstimatedFare, final, &r.CreatedAt, &r.UpdatedAt}
}

func scanRide(s scanner) (*models.Ride, error) {
	var r models.Ride
	var driver sql.NullString
	var final sql.NullFloat64
	if err := s.Scan(rideDest(&r, &driver, &final)...); err != nil {
		return nil, notFound(err)
	}
	r.DriverID = nullString(driver)
	if final.Valid {
		r.FinalFare = &final.Float64
	}
	return &r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, nr models.NewRide) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO rides(rider_id, pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, estimated_fare) VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+rideColumns,
		nr.RiderID, nr.PickupAddress, nr.DropoffAddress, nr.Pickup.Lat, nr.Pickup.Lng, nr.Dropoff.Lat, nr.Dropoff.Lng, nr.EstimatedFare)
	return scanRide(row)
}

func (p *PostgresStore) GetRide(ctx context.Context, id, riderID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 AND rider_id = $2`, id, riderID)
	return scanRide(row)
}

func (p *PostgresStore) CancelRide(ctx context.Context, id, riderID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET status = 'CANCELLED', updated_at = now() WHERE id = $1 AND rider_id = $2 AND status = 'REQUESTED' RETURNING `+rideColumns, id, riderID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return r, err
}

func (p *PostgresStore) RideHistory(ctx context.Context, riderID string, limit int) ([]models.HistoryEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.rider_id, r.driver_id, r.pickup_address, r.dropoff_address, r.pickup_lat, r.pickup_lng,
		       r.dropoff_lat, r.dropoff_lng, r.status, r.estimated_fare, r.final_fare, r.created_at, r.updated_at,
		       COALESCE(d.full_name, ''), rt.id, rt.to_user_id, rt.score, rt.note, rt.created_at
		FROM rides r
		LEFT JOIN profiles d ON d.id = r.driver_id
		LEFT JOIN ratings rt ON rt.ride_id = r.id AND rt.from_user_id = r.rider_id
		WHERE r.rider_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2`, riderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var driver, ratingID, ratingTo, note sql.NullString
		var final sql.NullFloat64
		var score sql.NullInt64
		var ratedAt sql.NullTime
		dest := append(rideDest(&e.Ride, &driver, &final), &e.DriverName, &ratingID, &ratingTo, &score, &note, &ratedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		e.Ride.DriverID = nullString(driver)
		if final.Valid {
			e.Ride.FinalFare = &final.Float64
		}
		if ratingID.Valid {
			e.Rating = &models.Rating{
				ID:         ratingID.String,
				RideID:     e.Ride.ID,
				FromUserID: riderID,
				ToUserID:   ratingTo.String,
				Score:      int(score.Int64),
				Note:       nullString(note),
				CreatedAt:  ratedAt.Time,
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const ratingColumns = `id, ride_id, from_user_id, to_user_id, score, note, created_at`

func scanRating(s scanner) (*models.Rating, error) {
	var r models.Rating
	var note sql.NullString
	if err := s.Scan(&r.ID, &r.RideID, &r.FromUserID, &r.ToUserID, &r.Score, &note, &r.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	r.Note = nullString(note)
	return &r, nil
}

func (p *PostgresStore) InsertRating(ctx context.Context, r models.Rating) (*models.Rating, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO ratings(ride_id, from_user_id, to_user_id, score, note) VALUES($1,$2,$3,$4,$5) RETURNING `+ratingColumns,
		r.RideID, r.FromUserID, r.ToUserID, r.Score, r.Note)
	out, err := scanRating(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	return out, err
}

func (p *PostgresStore) GetRating(ctx context.Context, rideID, fromUserID string) (*models.Rating, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE ride_id = $1 AND from_user_id = $2`, rideID, fromUserID)
	return scanRating(row)
}

const paymentColumns = `id, ride_id, rider_id, amount, currency, status, COALESCE(external_session_id, ''), created_at`

func scanPayment(s scanner) (*models.Payment, error) {
	var p models.Payment
	if err := s.Scan(&p.ID, &p.RideID, &p.RiderID, &p.Amount, &p.Currency, &p.Status, &p.ExternalSessionID, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (p *PostgresStore) LatestPayment(ctx context.Context, rideID string) (*models.Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE ride_id = $1 ORDER BY created_at DESC LIMIT 1`, rideID)
	return scanPayment(row)
}

func (p *PostgresStore) InsertPayment(ctx context.Context, pm models.Payment) (*models.Payment, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO payments(ride_id, rider_id, amount, currency, status, external_session_id) VALUES($1,$2,$3,$4,$5,$6) RETURNING `+paymentColumns,
		pm.RideID, pm.RiderID, pm.Amount, pm.Currency, pm.Status, pm.ExternalSessionID)
	return scanPayment(row)
}

func (p *PostgresStore) SetPaymentStatus(ctx context.Context, externalSessionID string, status models.PaymentStatus) (*models.Payment, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE payments SET status = $1 WHERE external_session_id = $2 RETURNING `+paymentColumns, status, externalSessionID)
	return scanPayment(row)
}

func (p *PostgresStore) GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	var d models.DriverLocation
	var heading, speed sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `SELECT driver_id, lat, lng, heading, speed_kmh, updated_at FROM driver_locations WHERE driver_id = $1`, driverID).
		Scan(&d.DriverID, &d.Lat, &d.Lng, &heading, &speed, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if heading.Valid {
		d.Heading = &heading.Float64
	}
	if speed.Valid {
		d.SpeedKmh = &speed.Float64
	}
	return &d, nil
}

// Migrate applies a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	if _, err := p.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
