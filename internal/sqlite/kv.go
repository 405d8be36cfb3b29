package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fare/internal/repository"
)

// entry is one row of the on-disk local cache.
type entry struct {
	Key       string `gorm:"column:cache_key;primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

func (entry) TableName() string { return "local_cache" }

// KVStore is a file-backed local cache for installations without Redis.
type KVStore struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite file at path and migrates the
// cache table. Use "file::memory:?cache=shared" for an in-memory store.
func Open(path string) (*KVStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*KVStore, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate local cache: %w", err)
	}
	return &KVStore{db: db}, nil
}

// Get returns the stored value. found is false when the key is absent.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.Value, true, nil
}

// Set upserts a value.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	row := entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// Remove deletes a value. Removing a missing key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&entry{}).Error
}

// Close releases the underlying connection pool.
func (s *KVStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ repository.KeyValueStore = (*KVStore)(nil)
