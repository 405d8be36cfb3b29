package repository

import (
	"context"

	"fare/internal/domain"
)

// TripRepository is the durable remote copy of a device's trip history.
type TripRepository interface {
	// Insert persists a new trip. It is idempotent by id: inserting an id
	// that is already stored succeeds and leaves the stored record as is.
	Insert(ctx context.Context, trip *domain.TripRecord) error

	// ListByDevice retrieves all trips for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]*domain.TripRecord, error)

	// DeleteByID removes a single trip.
	DeleteByID(ctx context.Context, id string) error

	// DeleteByDevice removes every trip for a device.
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// DisabledTripRepository is used when no remote store is configured.
// Every call fails with ErrRemoteDisabled so callers degrade to local-only.
type DisabledTripRepository struct{}

func (DisabledTripRepository) Insert(context.Context, *domain.TripRecord) error {
	return ErrRemoteDisabled
}

func (DisabledTripRepository) ListByDevice(context.Context, string) ([]*domain.TripRecord, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledTripRepository) DeleteByID(context.Context, string) error {
	return ErrRemoteDisabled
}

func (DisabledTripRepository) DeleteByDevice(context.Context, string) error {
	return ErrRemoteDisabled
}

var _ TripRepository = DisabledTripRepository{}
