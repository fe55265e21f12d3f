package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// Expected schema:
//
//	CREATE TABLE route_plans (
//	    id                     TEXT PRIMARY KEY,
//	    created_at             TIMESTAMPTZ NOT NULL,
//	    status                 TEXT NOT NULL,
//	    requested              INTEGER NOT NULL,
//	    visited                INTEGER NOT NULL,
//	    total_distance_meters  DOUBLE PRECISION NOT NULL,
//	    total_duration_seconds DOUBLE PRECISION NOT NULL,
//	    request                JSONB NOT NULL,
//	    result                 JSONB NOT NULL
//	);
//	CREATE INDEX route_plans_created_at_idx ON route_plans (created_at DESC, id DESC);
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL plan repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a plan by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Plan, error) {
	query := `
		SELECT id, created_at, request, result
		FROM route_plans
		WHERE id = $1
	`

	plan, err := scanPlan(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return plan, nil
}

// List retrieves plans newest first using keyset pagination on (created_at, id).
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := listLimit(opts)
	// Fetch one extra to determine if there are more results
	fetchLimit := limit + 1

	var (
		rows pgx.Rows
		err  error
	)
	if opts.Cursor == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT id, created_at, request, result
			FROM route_plans
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, fetchLimit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT p.id, p.created_at, p.request, p.result
			FROM route_plans p, route_plans c
			WHERE c.id = $1 AND (p.created_at, p.id) < (c.created_at, c.id)
			ORDER BY p.created_at DESC, p.id DESC
			LIMIT $2
		`, opts.Cursor, fetchLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var items []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}

	result := &ListResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = items[limit-1].ID
	}
	return result, nil
}

// Create stores a new plan.
func (r *PostgresRepository) Create(ctx context.Context, plan *Plan) error {
	requestJSON, err := json.Marshal(plan.Request)
	if err != nil {
		return fmt.Errorf("encode plan request: %w", err)
	}
	resultJSON, err := json.Marshal(plan.Result)
	if err != nil {
		return fmt.Errorf("encode plan result: %w", err)
	}

	query := `
		INSERT INTO route_plans (
			id, created_at, status, requested, visited,
			total_distance_meters, total_duration_seconds,
			request, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		plan.ID,
		plan.CreatedAt,
		string(plan.Result.Status),
		plan.Result.Requested,
		len(plan.Result.Route.Visits),
		plan.Result.Route.TotalMeters,
		plan.Result.Route.TotalSeconds,
		requestJSON,
		resultJSON,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var (
		plan        Plan
		requestJSON []byte
		resultJSON  []byte
	)
	if err := row.Scan(&plan.ID, &plan.CreatedAt, &requestJSON, &resultJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(requestJSON, &plan.Request); err != nil {
		return nil, fmt.Errorf("decode plan request: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &plan.Result); err != nil {
		return nil, fmt.Errorf("decode plan result: %w", err)
	}
	return &plan, nil
}

var _ Repository = (*PostgresRepository)(nil)
