package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const trackingPositionKey = "tracking:positions"

// Position is the last known location of a tracking device.
type Position struct {
	DeviceID string
	Lat      float64
	Lng      float64
}

// LocationStore keeps the live position of tracking devices in a GEO set.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdatePosition stores a device's position using GEOADD.
func (s *LocationStore) UpdatePosition(ctx context.Context, deviceID string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, trackingPositionKey, &redis.GeoLocation{
		Name:      deviceID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// GetPosition returns the last stored position, or nil if none.
func (s *LocationStore) GetPosition(ctx context.Context, deviceID string) (*Position, error) {
	positions, err := s.client.GeoPos(ctx, trackingPositionKey, deviceID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}
	return &Position{
		DeviceID: deviceID,
		Lat:      positions[0].Latitude,
		Lng:      positions[0].Longitude,
	}, nil
}

// RemovePosition removes a device from the geo index.
func (s *LocationStore) RemovePosition(ctx context.Context, deviceID string) error {
	return s.client.ZRem(ctx, trackingPositionKey, deviceID).Err()
}
