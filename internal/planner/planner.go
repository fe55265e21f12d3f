package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/telemetry"
)

const tracerName = "github.com/routewise/routewise/internal/planner"

// DefaultMaxStops is the stop cap applied when neither the request nor the config sets one.
const DefaultMaxStops = 100

// Config holds configuration for the planner.
type Config struct {
	// Service is the distance capability (required).
	Service distance.Service

	// Mode is the travel mode for every lookup (default: driving).
	Mode distance.Mode

	// Concurrency caps in-flight lookups per plan (default: 8).
	Concurrency int

	// RateLimit caps lookups per second across all plans. Zero disables it.
	RateLimit float64

	// Burst is the rate limiter bucket size.
	Burst int

	// LookupTimeout bounds each lookup (default: 10 seconds).
	LookupTimeout time.Duration

	// MaxStops caps the stops per request (default: 100).
	MaxStops int

	// Metrics records plan outcomes (optional).
	Metrics *telemetry.PlannerMetrics

	Logger zerolog.Logger
}

// Planner is the route planning entrypoint. It is safe for concurrent use;
// plans share only the rate limiter.
type Planner struct {
	builder    *MatrixBuilder
	aggregator *Aggregator
	maxStops   int
	metrics    *telemetry.PlannerMetrics
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// New creates a planner.
func New(cfg Config) *Planner {
	maxStops := cfg.MaxStops
	if maxStops <= 0 {
		maxStops = DefaultMaxStops
	}

	return &Planner{
		builder: NewMatrixBuilder(BuilderConfig{
			Service:       cfg.Service,
			Mode:          cfg.Mode,
			Concurrency:   cfg.Concurrency,
			RateLimit:     cfg.RateLimit,
			Burst:         cfg.Burst,
			LookupTimeout: cfg.LookupTimeout,
			Logger:        cfg.Logger,
		}),
		aggregator: NewAggregator(AggregatorConfig{
			Service:       cfg.Service,
			Mode:          cfg.Mode,
			Concurrency:   cfg.Concurrency,
			LookupTimeout: cfg.LookupTimeout,
			Logger:        cfg.Logger,
		}),
		maxStops: maxStops,
		metrics:  cfg.Metrics,
		tracer:   telemetry.Tracer(tracerName),
		logger:   cfg.Logger,
	}
}

// MaxStops returns the configured stop cap.
func (p *Planner) MaxStops() int {
	return p.maxStops
}

// Plan validates req, orders its stops and totals the route.
//
// It returns a *ValidationError before any lookup for bad input, a *PlanError
// wrapping ErrNoDistanceData when no pair of stops could be resolved, and the
// context error when ctx is done. Otherwise the result is either complete or
// partial; callers must check Result.Status.
func (p *Planner) Plan(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "planner.Plan")
	defer func() {
		outcome := planOutcome(result, err)
		span.SetAttributes(attribute.String("plan.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		p.metrics.RecordPlan(ctx, outcome, time.Since(start))
	}()

	if err := p.Validate(req); err != nil {
		return nil, err
	}

	stops := planningStops(req)
	span.SetAttributes(
		attribute.Int("plan.stops", len(stops)),
		attribute.Bool("plan.lazy_matrix", req.Options.LazyMatrix),
		attribute.Bool("plan.two_opt", req.Options.TwoOpt),
	)

	objective := req.Options.Objective
	if objective == "" {
		objective = ObjectiveDistance
	}

	var (
		d          Distances
		matrix     *Matrix
		lazy       *LazyMatrix
		buildStats func() BuildStats
	)
	if req.Options.LazyMatrix {
		lazy = p.builder.Lazy(stops)
		d, matrix, buildStats = lazy, lazy.Matrix(), lazy.Stats
	} else {
		m, bs, err := p.buildMatrix(ctx, stops)
		if err != nil {
			return nil, err
		}
		d, matrix, buildStats = m, m, func() BuildStats { return bs }
	}

	order, err := NearestNeighbor(ctx, d, objective)
	if err != nil {
		return nil, fmt.Errorf("constructing route: %w", err)
	}

	// A lazy matrix only knows the rows construction asked for. Before an
	// empty one counts as total failure, look at the rest as an eager build
	// would have.
	if lazy != nil && len(stops) > 1 && !matrix.AnyReachable() {
		if _, err := lazy.ResolveUntilReachable(ctx); err != nil {
			return nil, fmt.Errorf("resolving distance matrix: %w", err)
		}
	}

	bs := buildStats()
	p.metrics.RecordMatrix(ctx, bs.Lookups, bs.Unreachable)

	var gain float64
	if req.Options.TwoOpt {
		order, gain = ImproveTwoOpt(d, order, objective, req.Options.ReturnToDepot)
	}

	route, legLookups, err := p.aggregate(ctx, stops, order, d, req.Options.ReturnToDepot)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordSkippedLegs(ctx, route.SkippedLegs)

	result = &Result{
		Status:    StatusComplete,
		Route:     route,
		Unvisited: unvisited(stops, order),
		Requested: len(req.Stops),
		Stats: Stats{
			Lookups:     bs.Lookups,
			Calls:       bs.Calls,
			Unreachable: bs.Unreachable,
			LegLookups:  legLookups,
			TwoOptGain:  gain,
			Lazy:        req.Options.LazyMatrix,
			Elapsed:     time.Since(start),
		},
	}
	if len(order) < len(stops) {
		result.Status = StatusPartial
	}

	if len(stops) > 1 && !matrix.AnyReachable() {
		return nil, &PlanError{
			Message:  "no pair of stops could be resolved by the distance service",
			Err:      ErrNoDistanceData,
			Upstream: bs.LastError,
			Result:   result,
		}
	}

	p.logger.Info().
		Str("status", string(result.Status)).
		Int("visited", len(order)).
		Int("requested", result.Requested).
		Int("lookups", bs.Lookups).
		Int("unreachable", bs.Unreachable).
		Int("skipped_legs", route.SkippedLegs).
		Dur("elapsed", result.Stats.Elapsed).
		Msg("route planned")

	return result, nil
}

func (p *Planner) buildMatrix(ctx context.Context, stops []Stop) (*Matrix, BuildStats, error) {
	ctx, span := p.tracer.Start(ctx, "planner.BuildMatrix")
	defer span.End()

	m, bs, err := p.builder.Build(ctx, stops)
	span.SetAttributes(
		attribute.Int("matrix.lookups", bs.Lookups),
		attribute.Int("matrix.calls", bs.Calls),
		attribute.Int("matrix.unreachable", bs.Unreachable),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "matrix build aborted")
		return nil, bs, fmt.Errorf("building distance matrix: %w", err)
	}
	return m, bs, nil
}

func (p *Planner) aggregate(ctx context.Context, stops []Stop, order []int, d Distances, returnToDepot bool) (Route, int, error) {
	ctx, span := p.tracer.Start(ctx, "planner.Aggregate")
	defer span.End()

	route, lookups, err := p.aggregator.Aggregate(ctx, stops, order, d, returnToDepot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation aborted")
		return Route{}, lookups, fmt.Errorf("aggregating route: %w", err)
	}
	span.SetAttributes(
		attribute.Int("route.legs", len(order)-1),
		attribute.Int("route.skipped_legs", route.SkippedLegs),
	)
	return route, lookups, nil
}

// Validate checks req without making any lookup.
func (p *Planner) Validate(req Request) error {
	verr := &ValidationError{}

	if len(req.Stops) == 0 {
		verr.add("stops", "at least one stop is required")
		return verr
	}

	maxStops := p.maxStops
	if req.Options.MaxStops > 0 && req.Options.MaxStops < maxStops {
		maxStops = req.Options.MaxStops
	}
	if len(req.Stops) > maxStops {
		verr.add("stops", fmt.Sprintf("at most %d stops are allowed, got %d", maxStops, len(req.Stops)))
	}

	if req.Depot != nil {
		if err := req.Depot.Validate(); err != nil {
			verr.add("depot", err.Error())
		}
	}

	seen := make(map[string]int, len(req.Stops))
	for i, s := range req.Stops {
		field := fmt.Sprintf("stops[%d]", i)
		switch {
		case s.ID == "":
			verr.add(field+".id", "is required")
		case req.Depot != nil && s.ID == DepotStopID:
			verr.add(field+".id", fmt.Sprintf("%q is reserved for the depot", DepotStopID))
		default:
			if prev, dup := seen[s.ID]; dup {
				verr.add(field+".id", fmt.Sprintf("duplicates stops[%d].id", prev))
			} else {
				seen[s.ID] = i
			}
		}
		if err := s.Coordinate.Validate(); err != nil {
			verr.add(field+".coordinate", err.Error())
		}
	}

	if !req.Options.Objective.Valid() {
		verr.add("options.objective", fmt.Sprintf("must be %s or %s", ObjectiveDistance, ObjectiveDuration))
	}
	if req.Options.MaxStops < 0 {
		verr.add("options.max_stops", "must not be negative")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// planningStops returns the stops in planning order, the depot first.
func planningStops(req Request) []Stop {
	if req.Depot == nil {
		return req.Stops
	}
	stops := make([]Stop, 0, len(req.Stops)+1)
	stops = append(stops, Stop{ID: DepotStopID, Coordinate: *req.Depot})
	return append(stops, req.Stops...)
}

func unvisited(stops []Stop, order []int) []Stop {
	if len(order) == len(stops) {
		return nil
	}
	visited := make([]bool, len(stops))
	for _, i := range order {
		visited[i] = true
	}
	var out []Stop
	for i, s := range stops {
		if !visited[i] {
			out = append(out, s)
		}
	}
	return out
}

func planOutcome(result *Result, err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrNoDistanceData):
		return "no_data"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case err != nil:
		return "error"
	case result != nil && result.Status == StatusPartial:
		return "partial"
	default:
		return "complete"
	}
}
