package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fare/internal/config"
	internalRedis "fare/internal/redis"
	"fare/internal/repository"
	"fare/internal/sqlite"
)

func TestDriverName(t *testing.T) {
	assert.Equal(t, "postgres", driverName("postgres", false))
	assert.Equal(t, "nrpostgres", driverName("postgres", true))
	assert.Equal(t, "pgx", driverName("pgx", true))
	assert.Equal(t, "postgres", driverName("", false))
}

func TestKeyNamespace(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "local", keyNamespace(redis.NewStringCmd(ctx, "get", "local:gensan_trip_history")))
	assert.Equal(t, "lock", keyNamespace(redis.NewBoolCmd(ctx, "setnx", "lock:history:device_1", 1)))
	assert.Equal(t, "plain", keyNamespace(redis.NewStringCmd(ctx, "get", "plain")))
	assert.Equal(t, "redis", keyNamespace(redis.NewStatusCmd(ctx, "ping")))
}

func testConfig(t *testing.T, redisAddr, localBackend string) *config.Config {
	t.Helper()
	return &config.Config{
		Redis: config.RedisConfig{Addr: redisAddr},
		LocalCache: config.LocalCacheConfig{
			Backend:    localBackend,
			SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
		},
		Remote: config.RemoteConfig{Backend: "none"},
	}
}

func TestOpenStores_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	stores, err := OpenStores(context.Background(), testConfig(t, mr.Addr(), "redis"), nil, zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &internalRedis.CacheStore{}, stores.Local)
	assert.NotNil(t, stores.Redis)
	assert.NotNil(t, stores.Locker)
	assert.NotNil(t, stores.Positions)
	assert.Equal(t, repository.DisabledTripRepository{}, stores.Remote)
}

func TestOpenStores_FallsBackToSQLite(t *testing.T) {
	stores, err := OpenStores(context.Background(), testConfig(t, "127.0.0.1:1", "redis"), nil, zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &sqlite.KVStore{}, stores.Local)
	assert.Nil(t, stores.Redis)
	assert.Nil(t, stores.Locker)
	assert.Nil(t, stores.Positions)

	ctx := context.Background()
	require.NoError(t, stores.Local.Set(ctx, "k", []byte("v")))
	got, ok, err := stores.Local.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestOpenStores_UnknownBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	_, err := OpenStores(context.Background(), testConfig(t, mr.Addr(), "etcd"), nil, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(t, mr.Addr(), "sqlite")
	cfg.Remote.Backend = "dynamo"
	stores, err := OpenStores(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()
	assert.Equal(t, repository.DisabledTripRepository{}, stores.Remote)
}
