package featureflags

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores overrides in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE feature_flags (
//	    key        TEXT PRIMARY KEY,
//	    value      JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE feature_flag_changes (
//	    id         BIGSERIAL PRIMARY KEY,
//	    key        TEXT NOT NULL,
//	    value      JSONB NOT NULL,
//	    reason     TEXT NOT NULL,
//	    changed_at TIMESTAMPTZ NOT NULL
//	);
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, now: time.Now}
}

type flagRow struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// List returns the stored overrides.
func (r *PostgresRepository) List(ctx context.Context) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, updated_at FROM feature_flags`)
	if err != nil {
		return nil, fmt.Errorf("querying feature flags: %w", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowToStructByName[flagRow])
	if err != nil {
		return nil, fmt.Errorf("scanning feature flags: %w", err)
	}

	flags := make([]Flag, 0, len(stored))
	for _, row := range stored {
		f := Flag{Key: row.Key, UpdatedAt: row.UpdatedAt}
		if err := json.Unmarshal(row.Value, &f.Value); err != nil {
			return nil, fmt.Errorf("decoding feature flag %s: %w", row.Key, err)
		}
		flags = append(flags, f)
	}
	return flags, nil
}

// Save upserts flags and logs each change in one transaction.
func (r *PostgresRepository) Save(ctx context.Context, flags []Flag, reason string) error {
	now := r.now()

	batch := &pgx.Batch{}
	for _, f := range flags {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return fmt.Errorf("encoding feature flag %s: %w", f.Key, err)
		}
		batch.Queue(`
			INSERT INTO feature_flags (key, value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at
		`, f.Key, value, now)
		batch.Queue(`
			INSERT INTO feature_flag_changes (key, value, reason, changed_at)
			VALUES ($1, $2, $3, $4)
		`, f.Key, value, reason, now)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("saving feature flags: %w", err)
		}
		return nil
	})
}

var _ Repository = (*PostgresRepository)(nil)
