package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
)

// WarmJob pre-resolves hub-to-hub distances through the cached distance
// service so the first plans of the day do not pay for provider round trips.
type WarmJob struct {
	config  WarmConfig
	service distance.Service
	logger  zerolog.Logger
	metrics *WarmMetrics
}

// WarmMetrics tracks warm-up job statistics.
type WarmMetrics struct {
	mu sync.RWMutex

	TotalRuns         int64
	SuccessfulLookups int64
	FailedLookups     int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// WarmJobConfig holds configuration for creating a WarmJob.
type WarmJobConfig struct {
	Config WarmConfig

	// Service is the distance service to warm, normally the cached one.
	Service distance.Service

	Logger zerolog.Logger
}

// NewWarmJob creates a new warm-up job.
func NewWarmJob(cfg WarmJobConfig) *WarmJob {
	config := cfg.Config
	if len(config.Targets) == 0 {
		config.Targets = DefaultWarmTargets()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Mode == "" {
		config.Mode = distance.ModeDriving
	}

	return &WarmJob{
		config:  config,
		service: cfg.Service,
		logger:  cfg.Logger,
		metrics: &WarmMetrics{},
	}
}

// WarmResult contains the result of a warm-up run.
type WarmResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	TotalPairs int
	Successful int
	Failed     int
	Errors     []WarmError
}

// WarmError describes one failed lookup.
type WarmError struct {
	Target      string
	Origin      geo.Coordinate
	Destination geo.Coordinate
	Error       string
}

// Run looks up every configured hub pair. Lookups not started before ctx is
// done are left out of the counts.
func (j *WarmJob) Run(ctx context.Context) *WarmResult {
	startTime := time.Now()
	pairs := j.config.pairs()
	result := &WarmResult{
		StartTime:  startTime,
		TotalPairs: len(pairs),
	}

	j.logger.Info().
		Int("total_pairs", result.TotalPairs).
		Int("concurrency", j.config.Concurrency).
		Msg("starting distance cache warm-up")

	pairsChan := make(chan pair, len(pairs))
	resultsChan := make(chan pairResult, len(pairs))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.warmWorker(ctx, pairsChan, resultsChan)
		}()
	}

	for _, p := range pairs {
		pairsChan <- p
	}
	close(pairsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for pr := range resultsChan {
		if pr.err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, WarmError{
			Target:      pr.pair.target,
			Origin:      pr.pair.origin,
			Destination: pr.pair.destination,
			Error:       pr.err.Error(),
		})
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("distance cache warm-up completed")

	return result
}

type pairResult struct {
	pair pair
	err  error
}

func (j *WarmJob) warmWorker(ctx context.Context, pairs <-chan pair, results chan<- pairResult) {
	for p := range pairs {
		select {
		case <-ctx.Done():
			return
		default:
			results <- pairResult{pair: p, err: j.warmPair(ctx, p)}
		}
	}
}

func (j *WarmJob) warmPair(ctx context.Context, p pair) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	_, err := j.service.Distance(ctx, p.origin, p.destination, j.config.Mode)
	if err != nil {
		j.logger.Debug().Err(err).
			Str("target", p.target).
			Str("origin", p.origin.String()).
			Str("destination", p.destination.String()).
			Msg("warm-up lookup failed")
	}
	return err
}

func (j *WarmJob) updateMetrics(result *WarmResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.SuccessfulLookups += int64(result.Successful)
	j.metrics.FailedLookups += int64(result.Failed)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *WarmJob) GetMetrics() WarmMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return WarmMetrics{
		TotalRuns:         j.metrics.TotalRuns,
		SuccessfulLookups: j.metrics.SuccessfulLookups,
		FailedLookups:     j.metrics.FailedLookups,
		LastRunAt:         j.metrics.LastRunAt,
		LastRunDuration:   j.metrics.LastRunDuration,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *WarmJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":         m.TotalRuns,
		"successful_lookups": m.SuccessfulLookups,
		"failed_lookups":     m.FailedLookups,
		"last_run_at":        m.LastRunAt,
		"last_run_duration":  m.LastRunDuration.String(),
		"total_duration":     m.TotalDuration.String(),
	}
}
