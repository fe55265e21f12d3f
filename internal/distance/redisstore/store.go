// Package redisstore keeps distance cache entries in Redis so that API and
// worker instances share lookups.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/routewise/routewise/internal/distance"
)

// DefaultKeyPrefix namespaces cache keys.
const DefaultKeyPrefix = "routewise:distance:"

// Config holds configuration for the Redis store.
type Config struct {
	// Client is the Redis client (required).
	Client redis.UniversalClient

	// KeyPrefix is prepended to every key (default: DefaultKeyPrefix).
	KeyPrefix string
}

// Store is a Redis-backed distance.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Redis store.
func New(cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: cfg.Client, prefix: prefix}
}

// Get returns the entry for key, or distance.ErrCacheMiss.
func (s *Store) Get(ctx context.Context, key string) (*distance.CacheEntry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, distance.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry distance.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &entry, nil
}

// Set stores entry under key with the given expiry.
func (s *Store) Set(ctx context.Context, key string, entry distance.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ distance.Store = (*Store)(nil)
