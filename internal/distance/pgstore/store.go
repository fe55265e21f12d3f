// Package pgstore keeps distance cache entries in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE distance_cache (
//	    cache_key  TEXT PRIMARY KEY,
//	    meters     DOUBLE PRECISION NOT NULL,
//	    seconds    DOUBLE PRECISION NOT NULL,
//	    fetched_at TIMESTAMPTZ NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/routewise/routewise/internal/distance"
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL-backed distance.Store. Expiry is judged by the
// service clock, not the database's.
type Store struct {
	pool Querier
	now  func() time.Time
}

// New creates a PostgreSQL store.
func New(pool Querier) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Get returns the entry for key, or distance.ErrCacheMiss when absent or expired.
func (s *Store) Get(ctx context.Context, key string) (*distance.CacheEntry, error) {
	query := `
		SELECT meters, seconds, fetched_at
		FROM distance_cache
		WHERE cache_key = $1 AND expires_at > $2
	`

	var entry distance.CacheEntry
	err := s.pool.QueryRow(ctx, query, key, s.now()).Scan(
		&entry.Meters,
		&entry.Seconds,
		&entry.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, distance.ErrCacheMiss
		}
		return nil, fmt.Errorf("query distance cache: %w", err)
	}

	return &entry, nil
}

// Set upserts entry under key.
func (s *Store) Set(ctx context.Context, key string, entry distance.CacheEntry, ttl time.Duration) error {
	query := `
		INSERT INTO distance_cache (cache_key, meters, seconds, fetched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			meters = EXCLUDED.meters,
			seconds = EXCLUDED.seconds,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := s.pool.Exec(ctx, query,
		key,
		entry.Meters,
		entry.Seconds,
		entry.FetchedAt,
		entry.FetchedAt.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("upsert distance cache: %w", err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM distance_cache WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge distance cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ distance.Store = (*Store)(nil)
