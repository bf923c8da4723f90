package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVStore is a small redis-like string/hash store on top of gorm.
// Every write is an upsert, so the last writer wins.
type KVStore struct {
	db *gorm.DB
}

// NewKVStore wraps an opened database.
func NewKVStore(db *gorm.DB) *KVStore {
	return &KVStore{db: db}
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	entry := &StringEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the value under key; ok is false when the key is missing.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry StringEntry
	err := s.db.WithContext(ctx).Where("name = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// HSet stores value in field of the hash under key.
func (s *KVStore) HSet(ctx context.Context, key, field, value string) error {
	if err := upsertHash(s.db.WithContext(ctx), []HashEntry{{Key: key, Field: field, Value: value, UpdatedAt: time.Now()}}); err != nil {
		return fmt.Errorf("hset %s %s: %w", key, field, err)
	}
	return nil
}

// HGet returns one hash field; ok is false when the field is missing.
func (s *KVStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var entry HashEntry
	err := s.db.WithContext(ctx).Where("hash_key = ? AND field = ?", key, field).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	return entry.Value, true, nil
}

// HMSet writes all fields of values in one transaction.
func (s *KVStore) HMSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return fmt.Errorf("hmset %s: no fields", key)
	}
	now := time.Now()
	entries := make([]HashEntry, 0, len(values))
	for field, value := range values {
		entries = append(entries, HashEntry{Key: key, Field: field, Value: value, UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertHash(tx, entries)
	})
	if err != nil {
		return fmt.Errorf("hmset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns every field of the hash under key. A missing key yields an empty map.
func (s *KVStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var entries []HashEntry
	if err := s.db.WithContext(ctx).Where("hash_key = ?", key).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Field] = e.Value
	}
	return out, nil
}

func upsertHash(tx *gorm.DB, entries []HashEntry) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash_key"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entries).Error
}
