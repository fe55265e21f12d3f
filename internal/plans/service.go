package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/planner"
)

// Planner computes a route for a request.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Result, error)
}

// Defaults supplies option values for requests that leave them unset.
type Defaults interface {
	TwoOptEnabled(ctx context.Context) bool
	LazyMatrixEnabled(ctx context.Context) bool
	MaxStops(ctx context.Context) int
}

// ServiceConfig holds configuration for the plan service.
type ServiceConfig struct {
	Repository Repository
	Planner    Planner

	// Defaults is optional; without it unset options are off.
	Defaults Defaults

	Logger zerolog.Logger
}

// Service plans routes and stores the results.
type Service struct {
	repo     Repository
	planner  Planner
	defaults Defaults
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a new plan service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:     cfg.Repository,
		planner:  cfg.Planner,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Create plans the request and stores the result.
//
// Planner errors are returned unchanged so callers can tell validation
// failures, total lookup failure and cancellation apart. Only successful
// plans, complete or partial, are stored.
func (s *Service) Create(ctx context.Context, in CreateRequest) (*Plan, error) {
	req, err := s.Request(ctx, in)
	if err != nil {
		return nil, err
	}

	result, err := s.planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        IDPrefix + uuid.New().String(),
		CreatedAt: s.now().UTC(),
		Request:   req,
		Result:    *result,
	}
	plan.Result.PlanID = plan.ID

	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}

	s.logger.Debug().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Result.Status)).
		Msg("plan stored")

	return plan, nil
}

// Request resolves in into a planner request, filling unset options from the
// configured defaults. A request may lower the stop cap but never raise it.
// Missing coordinates are reported as a *planner.ValidationError.
func (s *Service) Request(ctx context.Context, in CreateRequest) (planner.Request, error) {
	depot, stops, err := planner.ResolveStops(in.Depot, in.Stops)
	if err != nil {
		return planner.Request{}, err
	}

	opts := planner.Options{
		Objective:     in.Objective,
		ReturnToDepot: in.ReturnToDepot,
		MaxStops:      in.MaxStops,
	}
	if opts.Objective == "" {
		opts.Objective = planner.ObjectiveDistance
	}

	if in.TwoOpt != nil {
		opts.TwoOpt = *in.TwoOpt
	} else if s.defaults != nil {
		opts.TwoOpt = s.defaults.TwoOptEnabled(ctx)
	}
	if in.LazyMatrix != nil {
		opts.LazyMatrix = *in.LazyMatrix
	} else if s.defaults != nil {
		opts.LazyMatrix = s.defaults.LazyMatrixEnabled(ctx)
	}
	if s.defaults != nil && opts.MaxStops >= 0 {
		if limit := s.defaults.MaxStops(ctx); opts.MaxStops == 0 || limit < opts.MaxStops {
			opts.MaxStops = limit
		}
	}

	return planner.Request{
		Depot:   depot,
		Stops:   stops,
		Options: opts,
	}, nil
}

// Get retrieves a stored plan.
func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	plan, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// List retrieves stored plans newest first.
func (s *Service) List(ctx context.Context, limit int, cursor string) (*ListResult, error) {
	result, err := s.repo.List(ctx, ListOptions{Limit: limit, Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return result, nil
}
