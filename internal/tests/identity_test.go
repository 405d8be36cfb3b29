package tests

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fare/internal/clock"
	"fare/internal/service"
)

func TestDeviceIdentity_GeneratedOnceAndPersisted(t *testing.T) {
	t.Parallel()
	store := NewMockKeyValueStore()
	clk := clock.NewFakeClock(testEpoch)
	ctx := context.Background()

	identity := service.NewDeviceIdentity(store, clk, nil)
	first, err := identity.DeviceID(ctx)
	require.NoError(t, err)
	second, err := identity.DeviceID(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "device_"))
	raw, ok := store.Raw(service.DeviceIDKey)
	require.True(t, ok)
	assert.Equal(t, first, raw)

	// A fresh process reads the same identity back.
	reopened, err := service.NewDeviceIdentity(store, clk, nil).DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, reopened)
}

func TestDeviceIdentity_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()
	store := NewMockKeyValueStore()
	identity := service.NewDeviceIdentity(store, nil, nil)

	var wg sync.WaitGroup
	got := make([]string, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = identity.DeviceID(context.Background())
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
	assert.Equal(t, int32(1), store.SetCallCount)
}

func TestDeviceIdentity_StoreFailure(t *testing.T) {
	t.Parallel()
	store := NewMockKeyValueStore()
	store.SetError = ErrMockUnavailable

	_, err := service.NewDeviceIdentity(store, nil, nil).DeviceID(context.Background())
	assert.ErrorIs(t, err, ErrMockUnavailable)
}
