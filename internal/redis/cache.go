package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Key prefix for the device-local cache.
const localCachePrefix = "local:"

// CacheStore is the Redis-backed local cache. Values never expire: the cache
// is the primary durable copy of a just-saved trip.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Get retrieves a value. found is false on a cache miss.
func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, localCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // Cache miss
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a value without expiry.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, localCachePrefix+key, value, 0).Err()
}

// Remove deletes a value.
func (s *CacheStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, localCachePrefix+key).Err()
}
