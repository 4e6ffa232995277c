package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
)

const (
	// uniqueViolation is raised when a second active trip would be written
	// for the same driver.
	uniqueViolation = "23505"
	// foreignKeyViolation is raised for a location of an unknown driver.
	foreignKeyViolation = "23503"
)

const tripColumns = `id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, status, driver_id, created_at, assigned_at, cancelled_at, cancellation_reason`

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

// Migrate executes the SQL file at path. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (models.Trip, error) {
	var (
		t                                  models.Trip
		status                             string
		pickLat, pickLng, dropLat, dropLng sql.NullFloat64
		driverID                           sql.NullString
		assignedAt, cancelledAt            sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.RiderID, &pickLat, &pickLng, &dropLat, &dropLng, &status, &driverID,
		&t.CreatedAt, &assignedAt, &cancelledAt, &t.CancellationReason); err != nil {
		return models.Trip{}, err
	}
	t.Status = models.TripStatus(status)
	if pickLat.Valid && pickLng.Valid {
		t.Pickup = &models.Coord{Lat: pickLat.Float64, Lng: pickLng.Float64}
	}
	if dropLat.Valid && dropLng.Valid {
		t.Dropoff = &models.Coord{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	if driverID.Valid {
		t.DriverID = &driverID.String
	}
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if cancelledAt.Valid {
		t.CancelledAt = &cancelledAt.Time
	}
	return t, nil
}

func nullCoord(c *models.Coord) (lat, lng sql.NullFloat64) {
	if c == nil {
		return
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lng, Valid: true}
}

// SaveTrip inserts a trip, replacing any row with the same id.
func (p *PostgresStore) SaveTrip(ctx context.Context, t models.Trip) error {
	pickLat, pickLng := nullCoord(t.Pickup)
	dropLat, dropLng := nullCoord(t.Dropoff)
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET rider_id=EXCLUDED.rider_id, pickup_lat=EXCLUDED.pickup_lat, pickup_lng=EXCLUDED.pickup_lng,
			dropoff_lat=EXCLUDED.dropoff_lat, dropoff_lng=EXCLUDED.dropoff_lng, status=EXCLUDED.status, driver_id=EXCLUDED.driver_id,
			created_at=EXCLUDED.created_at, assigned_at=EXCLUDED.assigned_at, cancelled_at=EXCLUDED.cancelled_at,
			cancellation_reason=EXCLUDED.cancellation_reason`,
		t.ID, t.RiderID, pickLat, pickLng, dropLat, dropLng, string(t.Status), t.DriverID, t.CreatedAt, t.AssignedAt, t.CancelledAt, t.CancellationReason)
	return err
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	t, err := scanTrip(p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) ListPending(ctx context.Context, createdAfter time.Time, limit int) ([]models.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE status='pending' AND driver_id IS NULL`
	args := []any{}
	if !createdAfter.IsZero() {
		args = append(args, createdAfter)
		q += ` AND created_at >= $1`
	}
	q += ` ORDER BY created_at, id`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) OccupiedDrivers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT driver_id FROM trips WHERE driver_id IS NOT NULL AND status = ANY($1)`,
		pq.Array(occupyingStatuses()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// CommitAssignment is a single conditional UPDATE. Under concurrent commits
// for the same trip the loser re-evaluates the WHERE clause against the
// winner's row and matches nothing. Concurrent commits of one driver to two
// trips are caught by the NOT EXISTS guard or, when both snapshots miss each
// other, by the trips_one_active_per_driver index.
func (p *PostgresStore) CommitAssignment(ctx context.Context, tripID, driverID string, at time.Time) (models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE trips SET driver_id=$2, status='accepted', assigned_at=$3
		WHERE id=$1 AND status='pending' AND driver_id IS NULL
			AND EXISTS (SELECT 1 FROM drivers d WHERE d.id=$2 AND d.availability='active')
			AND NOT EXISTS (SELECT 1 FROM trips t2 WHERE t2.driver_id=$2 AND t2.status = ANY($4))
		RETURNING `+tripColumns,
		tripID, driverID, at, pq.Array(occupyingStatuses()))
	t, err := scanTrip(row)
	if err == nil {
		return t, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return models.Trip{}, ErrDriverOccupied
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, err
	}
	// nothing matched: find out which guard failed
	cur, err := p.GetTrip(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	if !cur.Unassigned() {
		return models.Trip{}, ErrTripNotPending
	}
	return models.Trip{}, ErrDriverOccupied
}

func (p *PostgresStore) CancelAssignment(ctx context.Context, tripID, reason string, at time.Time) (string, error) {
	var released string
	err := p.db.QueryRowContext(ctx, `WITH prev AS (
			SELECT id, driver_id FROM trips WHERE id=$1 FOR UPDATE
		)
		UPDATE trips t SET status='cancelled', driver_id=NULL, cancelled_at=$3, cancellation_reason=$2
		FROM prev
		WHERE t.id=prev.id AND t.status = ANY($4) AND prev.driver_id IS NOT NULL
		RETURNING prev.driver_id`,
		tripID, reason, at, pq.Array([]string{string(models.TripAccepted), string(models.TripInProgress)})).Scan(&released)
	if err == nil {
		return released, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if _, err := p.GetTrip(ctx, tripID); err != nil {
		return "", err
	}
	return "", ErrNotCancellable
}

// UpsertDriver registers a driver or replaces its record.
func (p *PostgresStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(id, name, availability) VALUES($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, availability=EXCLUDED.availability`,
		d.ID, d.Name, string(d.Availability))
	return err
}

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	return p.queryDrivers(ctx, `SELECT id, name, availability FROM drivers ORDER BY id`)
}

func (p *PostgresStore) ActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	return p.queryDrivers(ctx, `SELECT id, name, availability FROM drivers WHERE availability='active' ORDER BY id`)
}

func (p *PostgresStore) queryDrivers(ctx context.Context, q string) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		var d models.Driver
		var a string
		if err := rows.Scan(&d.ID, &d.Name, &a); err != nil {
			return nil, err
		}
		d.Availability = models.Availability(a)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, a models.Availability) error {
	if !a.Valid() {
		return fmt.Errorf("invalid availability %q", a)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET availability=$2 WHERE id=$1`, id, string(a))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresLocations stores driver locations in the driver_locations table.
// It shares the connection pool of the PostgresStore it was created from.
type PostgresLocations struct {
	db *sql.DB
}

func (p *PostgresStore) Locations() *PostgresLocations { return &PostgresLocations{db: p.db} }

func (l *PostgresLocations) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if err := geo.Validate(loc.Coord()); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO driver_locations(driver_id, lat, lng, updated_at) VALUES($1,$2,$3,$4)
		ON CONFLICT (driver_id) DO UPDATE SET lat=EXCLUDED.lat, lng=EXCLUDED.lng, updated_at=EXCLUDED.updated_at`,
		loc.DriverID, loc.Lat, loc.Lng, loc.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (l *PostgresLocations) Locations(ctx context.Context, ids []string) (map[string]models.DriverLocation, error) {
	out := make(map[string]models.DriverLocation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := l.db.QueryContext(ctx, `SELECT driver_id, lat, lng, updated_at FROM driver_locations WHERE driver_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var loc models.DriverLocation
		if err := rows.Scan(&loc.DriverID, &loc.Lat, &loc.Lng, &loc.UpdatedAt); err != nil {
			return nil, err
		}
		out[loc.DriverID] = loc
	}
	return out, rows.Err()
}

func occupyingStatuses() []string {
	out := make([]string, len(models.OccupyingStatuses))
	for i, s := range models.OccupyingStatuses {
		out[i] = string(s)
	}
	return out
}
