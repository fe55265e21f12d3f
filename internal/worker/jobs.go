package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/planner"
	"github.com/routewise/routewise/internal/plans"
)

// Job types carried in JobMessage.JobType.
const (
	JobPlanRoute          = "plan_route"
	JobHealthCheck        = "health_check"
	JobDistanceCachePurge = "distance_cache_purge"
	JobDistanceCacheWarm  = "distance_cache_warm"
)

// ErrMalformedMessage is returned for messages that are not valid job JSON.
var ErrMalformedMessage = errors.New("malformed job message")

// errDiscard marks failures that redelivery cannot fix.
var errDiscard = errors.New("job discarded")

// JobMessage is the body of a job published to the worker subscription.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Plan is the request of a plan_route job.
	Plan *plans.CreateRequest `json:"plan,omitempty"`
}

// Purger deletes expired distance cache entries.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// ProcessorConfig holds configuration for the job processor.
type ProcessorConfig struct {
	Plans *plans.Service

	// Distance answers health check probes.
	Distance distance.Service

	// Purger is nil when the cache has no purgeable backing store.
	Purger Purger

	// Warm is nil when cache warm-up is not configured.
	Warm *WarmJob

	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration

	Logger zerolog.Logger
}

// Processor runs jobs independently of the transport that delivered them.
type Processor struct {
	plans      *plans.Service
	distance   distance.Service
	purger     Purger
	warm       *WarmJob
	jobTimeout time.Duration
	logger     zerolog.Logger
}

// NewProcessor creates a new job processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{
		plans:      cfg.Plans,
		distance:   cfg.Distance,
		purger:     cfg.Purger,
		warm:       cfg.Warm,
		jobTimeout: cfg.JobTimeout,
		logger:     cfg.Logger,
	}
}

// Process decodes and runs one job.
func (p *Processor) Process(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	switch msg.JobType {
	case JobPlanRoute:
		return p.planRoute(ctx, msg)
	case JobHealthCheck:
		return p.healthCheck(ctx)
	case JobDistanceCachePurge:
		return p.purgeCache(ctx)
	case JobDistanceCacheWarm:
		return p.warmCache(ctx)
	default:
		return fmt.Errorf("%w: unknown job type %q", errDiscard, msg.JobType)
	}
}

// ShouldAck reports whether a message whose job returned err must not be
// redelivered. Malformed messages are redelivered so they surface in the
// dead-letter topic.
func ShouldAck(err error) bool {
	return err == nil || errors.Is(err, errDiscard)
}

func (p *Processor) planRoute(ctx context.Context, msg JobMessage) error {
	if p.plans == nil {
		return fmt.Errorf("%w: plan service not configured", errDiscard)
	}
	if msg.Plan == nil {
		return fmt.Errorf("%w: plan_route job without plan", errDiscard)
	}

	plan, err := p.plans.Create(ctx, *msg.Plan)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidRequest) {
			return fmt.Errorf("%w: %w", errDiscard, err)
		}
		return fmt.Errorf("planning route: %w", err)
	}

	p.logger.Info().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Result.Status)).
		Int("visited", len(plan.Result.Route.Visits)).
		Int("requested", plan.Result.Requested).
		Msg("plan_route job stored plan")
	return nil
}

// Probe endpoints for health checks, Amsterdam to Rotterdam.
var (
	probeOrigin      = geo.Coordinate{Lat: 52.3676, Lon: 4.9041}
	probeDestination = geo.Coordinate{Lat: 51.9244, Lon: 4.4777}
)

func (p *Processor) healthCheck(ctx context.Context) error {
	if p.distance == nil {
		return fmt.Errorf("%w: distance service not configured", errDiscard)
	}

	p.logger.Debug().Msg("running health check")

	m, err := p.distance.Distance(ctx, probeOrigin, probeDestination, distance.ModeDriving)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !m.Valid() {
		return fmt.Errorf("health check failed: invalid measurement %+v", m)
	}

	p.logger.Debug().Float64("meters", m.Meters).Msg("health check passed")
	return nil
}

func (p *Processor) purgeCache(ctx context.Context) error {
	if p.purger == nil {
		p.logger.Info().Msg("distance cache has no purgeable store, skipping purge")
		return nil
	}

	n, err := p.purger.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purging distance cache: %w", err)
	}

	p.logger.Info().Int64("purged", n).Msg("distance cache purged")
	return nil
}

func (p *Processor) warmCache(ctx context.Context) error {
	if p.warm == nil {
		p.logger.Info().Msg("distance cache warm-up not configured, skipping")
		return nil
	}

	result := p.warm.Run(ctx)

	// Consider it successful if more than half succeeded.
	if result.Failed > result.Successful {
		return fmt.Errorf("too many warm-up failures: %d/%d", result.Failed, result.TotalPairs)
	}
	return nil
}
