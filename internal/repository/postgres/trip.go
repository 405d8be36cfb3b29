package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fare/internal/domain"
	"fare/internal/repository"
)

// Schema creates the trips table used as the remote store.
const Schema = `
CREATE TABLE IF NOT EXISTS trips (
	id          TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL,
	trip_type   TEXT NOT NULL,
	distance    NUMERIC NOT NULL,
	fare        NUMERIC NOT NULL,
	currency    TEXT NOT NULL,
	"timestamp" BIGINT NOT NULL,
	start_lat   NUMERIC,
	start_lng   NUMERIC,
	end_lat     NUMERIC,
	end_lng     NUMERIC,
	route       JSONB
);
CREATE INDEX IF NOT EXISTS trips_device_id_timestamp_idx ON trips (device_id, "timestamp" DESC);
`

const tripColumns = `id, device_id, trip_type, distance, fare, currency, "timestamp", start_lat, start_lng, end_lat, end_lng, route`

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

// EnsureSchema creates the trips table if it does not exist.
func (r *TripRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, Schema)
	return err
}

// Insert persists a new trip. Inserting an id that is already stored is a
// no-op, so a trip pushed twice is not an error.
func (r *TripRepository) Insert(ctx context.Context, trip *domain.TripRecord) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	var startLat, startLng, endLat, endLng sql.NullFloat64
	if trip.StartPoint != nil {
		startLat = sql.NullFloat64{Float64: trip.StartPoint.Latitude, Valid: true}
		startLng = sql.NullFloat64{Float64: trip.StartPoint.Longitude, Valid: true}
	}
	if trip.EndPoint != nil {
		endLat = sql.NullFloat64{Float64: trip.EndPoint.Latitude, Valid: true}
		endLng = sql.NullFloat64{Float64: trip.EndPoint.Longitude, Valid: true}
	}

	var route sql.NullString
	if len(trip.Route) > 0 {
		data, err := json.Marshal(trip.Route)
		if err != nil {
			return fmt.Errorf("encode route: %w", err)
		}
		route = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.DeviceID,
		string(trip.Kind),
		trip.DistanceKm,
		trip.Fare,
		trip.Currency,
		trip.CreatedAtMillis,
		startLat,
		startLng,
		endLat,
		endLng,
		route,
	)

	return err
}

// ListByDevice retrieves all trips for a device, newest first.
func (r *TripRepository) ListByDevice(ctx context.Context, deviceID string) ([]*domain.TripRecord, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips WHERE device_id = $1 ORDER BY "timestamp" DESC
	`

	rows, err := r.q.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.TripRecord
	for rows.Next() {
		var row tripRow
		if err := rows.Scan(
			&row.ID,
			&row.DeviceID,
			&row.Kind,
			&row.Distance,
			&row.Fare,
			&row.Currency,
			&row.Timestamp,
			&row.StartLat,
			&row.StartLng,
			&row.EndLat,
			&row.EndLng,
			&row.Route,
		); err != nil {
			return nil, err
		}

		trip, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", row.ID, err)
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// DeleteByID removes a single trip. Deleting a missing trip is not an error.
func (r *TripRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM trips WHERE id = $1`, id)
	return err
}

// DeleteByDevice removes every trip recorded by a device.
func (r *TripRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM trips WHERE device_id = $1`, deviceID)
	return err
}

// tripRow holds raw column values. Numeric columns are scanned untyped
// because drivers return NUMERIC as text.
type tripRow struct {
	ID        string
	DeviceID  string
	Kind      string
	Distance  any
	Fare      any
	Currency  string
	Timestamp any
	StartLat  any
	StartLng  any
	EndLat    any
	EndLng    any
	Route     []byte
}

func (row tripRow) record() (*domain.TripRecord, error) {
	trip := &domain.TripRecord{
		ID:       row.ID,
		DeviceID: row.DeviceID,
		Kind:     domain.TripKind(row.Kind),
		Currency: row.Currency,
	}

	var err error
	if trip.DistanceKm, _, err = repository.CoerceFloat(row.Distance); err != nil {
		return nil, fmt.Errorf("distance: %w", err)
	}
	if trip.Fare, _, err = repository.CoerceFloat(row.Fare); err != nil {
		return nil, fmt.Errorf("fare: %w", err)
	}
	if trip.CreatedAtMillis, _, err = repository.CoerceInt(row.Timestamp); err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	if trip.StartPoint, err = repository.CoercePoint(row.StartLat, row.StartLng); err != nil {
		return nil, fmt.Errorf("start point: %w", err)
	}
	if trip.EndPoint, err = repository.CoercePoint(row.EndLat, row.EndLng); err != nil {
		return nil, fmt.Errorf("end point: %w", err)
	}

	if len(row.Route) > 0 && string(row.Route) != "null" {
		if err := json.Unmarshal(row.Route, &trip.Route); err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
	}

	return trip, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
