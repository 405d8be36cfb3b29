package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fare/internal/clock"
	"fare/internal/repository"
)

// DeviceIDKey is the local cache key holding the installation's identity.
const DeviceIDKey = "gensan_device_id"

// IdentityProvider yields the stable identity of this installation.
type IdentityProvider interface {
	DeviceID(ctx context.Context) (string, error)
}

// DeviceIdentity generates the device id on first use and persists it in the
// local cache. The id is never rotated.
type DeviceIdentity struct {
	store  repository.KeyValueStore
	clock  clock.Clock
	logger *zap.Logger

	mu sync.Mutex
	id string
}

// NewDeviceIdentity creates a new DeviceIdentity.
func NewDeviceIdentity(store repository.KeyValueStore, clk clock.Clock, logger *zap.Logger) *DeviceIdentity {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceIdentity{store: store, clock: clk, logger: logger}
}

// DeviceID returns the persisted id, creating it if none exists.
func (d *DeviceIdentity) DeviceID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id != "" {
		return d.id, nil
	}

	data, found, err := d.store.Get(ctx, DeviceIDKey)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if found && strings.TrimSpace(string(data)) != "" {
		d.id = strings.TrimSpace(string(data))
		return d.id, nil
	}

	id := fmt.Sprintf("device_%d_%s", d.clock.Now().UnixMilli(), strings.ReplaceAll(uuid.New().String(), "-", ""))
	if err := d.store.Set(ctx, DeviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	d.id = id
	d.logger.Info("device identity created", zap.String("device_id", id))
	return id, nil
}

// StaticIdentity is a fixed identity.
type StaticIdentity string

// DeviceID returns the fixed id.
func (s StaticIdentity) DeviceID(context.Context) (string, error) {
	return string(s), nil
}

var (
	_ IdentityProvider = (*DeviceIdentity)(nil)
	_ IdentityProvider = StaticIdentity("")
)
