package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fare/internal/config"
	internalRedis "fare/internal/redis"
	"fare/internal/repository"
	"fare/internal/repository/firebase"
	"fare/internal/repository/postgres"
	"fare/internal/sqlite"
)

// Stores holds the storage backends selected by configuration. Close releases
// whatever was opened.
type Stores struct {
	Local     repository.KeyValueStore
	Remote    repository.TripRepository
	Redis     *redis.Client
	Positions internalRedis.PositionStoreInterface
	Locker    internalRedis.LockStoreInterface

	closers []func() error
}

// Close releases every opened backend.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// OpenStores connects the local cache and the remote trip store. Redis is
// always attempted; when unreachable the sqlite cache is used and the
// live-position and lock features are disabled. A remote store that cannot be
// reached is replaced with repository.DisabledTripRepository so the service
// still runs local-only.
func OpenStores(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application, logger *zap.Logger) (*Stores, error) {
	stores := &Stores{}

	redisClient, err := NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Warn("redis unavailable", zap.Error(err))
	} else {
		stores.Redis = redisClient
		stores.Positions = internalRedis.NewLocationStore(redisClient)
		stores.Locker = internalRedis.NewLockStore(redisClient)
		stores.closers = append(stores.closers, redisClient.Close)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	local, err := openLocal(cfg.LocalCache, stores)
	if err != nil {
		stores.Close()
		return nil, err
	}
	stores.Local = local
	logger.Info("local cache ready", zap.String("backend", cfg.LocalCache.Backend))

	remote, err := openRemote(ctx, cfg, nrApp, stores)
	if err != nil {
		logger.Warn("remote store unavailable, running local-only",
			zap.String("backend", cfg.Remote.Backend),
			zap.Error(err),
		)
		remote = repository.DisabledTripRepository{}
	}
	stores.Remote = remote

	return stores, nil
}

func openLocal(cfg config.LocalCacheConfig, stores *Stores) (repository.KeyValueStore, error) {
	switch cfg.Backend {
	case "redis":
		if stores.Redis != nil {
			return internalRedis.NewCacheStore(stores.Redis), nil
		}
		// Fall back to the on-disk cache.
		fallthrough
	case "sqlite":
		kv, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, kv.Close)
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown local cache backend %q", cfg.Backend)
	}
}

func openRemote(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application, stores *Stores) (repository.TripRepository, error) {
	switch cfg.Remote.Backend {
	case "postgres":
		db, err := NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, db.Close)
		return newPostgresRemote(ctx, db)
	case "firebase":
		client, err := firebase.NewClient(ctx, cfg.Remote.FirebaseDatabaseURL, cfg.Remote.FirebaseCredentials)
		if err != nil {
			return nil, err
		}
		return firebase.NewTripRepository(client), nil
	case "none", "":
		return repository.DisabledTripRepository{}, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

func newPostgresRemote(ctx context.Context, db *sql.DB) (repository.TripRepository, error) {
	err := postgres.RunInTx(ctx, db, func(tx *sql.Tx) error {
		return postgres.NewTripRepositoryWithTx(tx).EnsureSchema(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("ensure trips schema: %w", err)
	}
	return postgres.NewTripRepository(db), nil
}
