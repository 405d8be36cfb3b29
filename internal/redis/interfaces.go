package redis

import (
	"context"
	"time"

	"fare/internal/repository"
)

// PositionStoreInterface defines the live-position operations.
type PositionStoreInterface interface {
	UpdatePosition(ctx context.Context, deviceID string, lat, lng float64) error
	GetPosition(ctx context.Context, deviceID string) (*Position, error)
	RemovePosition(ctx context.Context, deviceID string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireHistoryLock(ctx context.Context, deviceID string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseHistoryLock(ctx context.Context, deviceID, token string) error
}

// Ensure concrete types implement interfaces.
var (
	_ PositionStoreInterface   = (*LocationStore)(nil)
	_ LockStoreInterface       = (*LockStore)(nil)
	_ repository.KeyValueStore = (*CacheStore)(nil)
)
