// Package firebase stores trip history in a Firebase Realtime Database.
package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"fare/internal/domain"
	"fare/internal/repository"
)

const tripsNode = "trips"

// NewClient initialises the Firebase Admin SDK and returns an RTDB client.
// An empty credentialsFile falls back to application-default credentials.
func NewClient(ctx context.Context, databaseURL, credentialsFile string) (*db.Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("firebase database URL is required")
	}

	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return client, nil
}

// rtdbTrip mirrors a trip entry under /trips/{id}. Numeric fields are left
// untyped since other clients may have written them as strings.
type rtdbTrip struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	TripType  string `json:"trip_type"`
	Distance  any    `json:"distance"`
	Fare      any    `json:"fare"`
	Currency  string `json:"currency"`
	Timestamp any    `json:"timestamp"`
	StartLat  any    `json:"start_lat"`
	StartLng  any    `json:"start_lng"`
	EndLat    any    `json:"end_lat"`
	EndLng    any    `json:"end_lng"`
	Route     any    `json:"route"`
}

// TripRepository implements repository.TripRepository on Firebase RTDB.
type TripRepository struct {
	client *db.Client
}

// NewTripRepository creates a new RTDB trip repository.
func NewTripRepository(client *db.Client) *TripRepository {
	return &TripRepository{client: client}
}

// Insert writes the trip under its id. Records are immutable, so rewriting
// an existing id stores the same value.
func (r *TripRepository) Insert(ctx context.Context, trip *domain.TripRecord) error {
	entry, err := toRTDB(trip)
	if err != nil {
		return err
	}
	if err := r.client.NewRef(tripsNode).Child(trip.ID).Set(ctx, entry); err != nil {
		return fmt.Errorf("writing trip %s: %w", trip.ID, err)
	}
	return nil
}

// ListByDevice queries trips by device_id, newest first.
func (r *TripRepository) ListByDevice(ctx context.Context, deviceID string) ([]*domain.TripRecord, error) {
	data, err := r.queryDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	trips := make([]*domain.TripRecord, 0, len(data))
	for key, entry := range data {
		if entry.ID == "" {
			entry.ID = key
		}
		trip, err := fromRTDB(entry)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", key, err)
		}
		trips = append(trips, trip)
	}

	sort.Slice(trips, func(i, j int) bool {
		return trips[i].CreatedAtMillis > trips[j].CreatedAtMillis
	})
	return trips, nil
}

// DeleteByID removes /trips/{id}.
func (r *TripRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.NewRef(tripsNode).Child(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting trip %s: %w", id, err)
	}
	return nil
}

// DeleteByDevice removes every trip for the device in one multi-path update.
func (r *TripRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	data, err := r.queryDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(data))
	for key := range data {
		updates[key] = nil
	}
	if err := r.client.NewRef(tripsNode).Update(ctx, updates); err != nil {
		return fmt.Errorf("deleting trips for device %s: %w", deviceID, err)
	}
	return nil
}

func (r *TripRepository) queryDevice(ctx context.Context, deviceID string) (map[string]rtdbTrip, error) {
	var data map[string]rtdbTrip
	ref := r.client.NewRef(tripsNode)
	if err := ref.OrderByChild("device_id").EqualTo(deviceID).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying trips for device %s: %w", deviceID, err)
	}
	return data, nil
}

func toRTDB(trip *domain.TripRecord) (rtdbTrip, error) {
	entry := rtdbTrip{
		ID:        trip.ID,
		DeviceID:  trip.DeviceID,
		TripType:  string(trip.Kind),
		Distance:  trip.DistanceKm,
		Fare:      trip.Fare,
		Currency:  trip.Currency,
		Timestamp: trip.CreatedAtMillis,
	}
	if trip.StartPoint != nil {
		entry.StartLat = trip.StartPoint.Latitude
		entry.StartLng = trip.StartPoint.Longitude
	}
	if trip.EndPoint != nil {
		entry.EndLat = trip.EndPoint.Latitude
		entry.EndLng = trip.EndPoint.Longitude
	}
	if len(trip.Route) > 0 {
		data, err := json.Marshal(trip.Route)
		if err != nil {
			return rtdbTrip{}, fmt.Errorf("encode route: %w", err)
		}
		entry.Route = string(data)
	}
	return entry, nil
}

func fromRTDB(entry rtdbTrip) (*domain.TripRecord, error) {
	trip := &domain.TripRecord{
		ID:       entry.ID,
		DeviceID: entry.DeviceID,
		Kind:     domain.TripKind(entry.TripType),
		Currency: entry.Currency,
	}

	var err error
	if trip.DistanceKm, _, err = repository.CoerceFloat(entry.Distance); err != nil {
		return nil, fmt.Errorf("distance: %w", err)
	}
	if trip.Fare, _, err = repository.CoerceFloat(entry.Fare); err != nil {
		return nil, fmt.Errorf("fare: %w", err)
	}
	if trip.CreatedAtMillis, _, err = repository.CoerceInt(entry.Timestamp); err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	if trip.StartPoint, err = repository.CoercePoint(entry.StartLat, entry.StartLng); err != nil {
		return nil, fmt.Errorf("start point: %w", err)
	}
	if trip.EndPoint, err = repository.CoercePoint(entry.EndLat, entry.EndLng); err != nil {
		return nil, fmt.Errorf("end point: %w", err)
	}

	switch route := entry.Route.(type) {
	case nil:
	case string:
		if route != "" && route != "null" {
			if err := json.Unmarshal([]byte(route), &trip.Route); err != nil {
				return nil, fmt.Errorf("route: %w", err)
			}
		}
	default:
		// Written as a native array by another client.
		raw, err := json.Marshal(route)
		if err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
		if err := json.Unmarshal(raw, &trip.Route); err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
	}

	return trip, nil
}

var _ repository.TripRepository = (*TripRepository)(nil)
