package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a history lock whose token no
// longer matches, because it expired and was taken by another holder.
var ErrLockNotHeld = errors.New("history lock not held")

// releaseScript deletes the lock only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore guards the per-device trip history with a Redis lock. Each
// acquisition stores a fresh token so only its holder can release it.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func historyLockKey(deviceID string) string {
	return "lock:history:" + deviceID
}

// AcquireHistoryLock tries to take the history lock for a device. ok is false
// when another holder has it; token must be passed to ReleaseHistoryLock.
func (s *LockStore) AcquireHistoryLock(ctx context.Context, deviceID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.client.SetNX(ctx, historyLockKey(deviceID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseHistoryLock releases the lock if token still owns it.
func (s *LockStore) ReleaseHistoryLock(ctx context.Context, deviceID, token string) error {
	deleted, err := releaseScript.Run(ctx, s.client, []string{historyLockKey(deviceID)}, token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}
