package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/routewise/routewise/internal/telemetry"

// ProviderMetrics records distance provider calls and cache effectiveness.
// A nil *ProviderMetrics is valid and records nothing.
type ProviderMetrics struct {
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
}

// NewProviderMetrics creates provider instruments on the global meter provider.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	requestTotal, err := meter.Int64Counter(
		"distance.provider.request.total",
		metric.WithDescription("Total number of distance provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"distance.provider.request.duration",
		metric.WithDescription("Duration of distance provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"distance.cache.hits",
		metric.WithDescription("Distance lookups served from cache"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"distance.cache.misses",
		metric.WithDescription("Distance lookups not served from cache"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}, nil
}

// RecordRequest records one provider request and its outcome.
func (m *ProviderMetrics) RecordRequest(ctx context.Context, provider, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCacheHit records a lookup served from cache.
func (m *ProviderMetrics) RecordCacheHit(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCacheMiss records a lookup that went to the provider.
func (m *ProviderMetrics) RecordCacheMiss(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// PlannerMetrics records route planning outcomes.
// A nil *PlannerMetrics is valid and records nothing.
type PlannerMetrics struct {
	planTotal        metric.Int64Counter
	planDuration     metric.Float64Histogram
	lookupTotal      metric.Int64Counter
	unreachablePairs metric.Int64Counter
	skippedLegs      metric.Int64Counter
}

// NewPlannerMetrics creates planner instruments on the global meter provider.
func NewPlannerMetrics() (*PlannerMetrics, error) {
	meter := otel.Meter(meterName)

	planTotal, err := meter.Int64Counter(
		"planner.plan.total",
		metric.WithDescription("Total number of route plans by outcome"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, err
	}

	planDuration, err := meter.Float64Histogram(
		"planner.plan.duration",
		metric.WithDescription("Duration of route planning in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lookupTotal, err := meter.Int64Counter(
		"planner.lookup.total",
		metric.WithDescription("Distance lookups issued while building matrices"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	unreachablePairs, err := meter.Int64Counter(
		"planner.matrix.unreachable",
		metric.WithDescription("Matrix entries recorded as unreachable"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, err
	}

	skippedLegs, err := meter.Int64Counter(
		"planner.legs.skipped",
		metric.WithDescription("Route legs left out of totals after a failed lookup"),
		metric.WithUnit("{leg}"),
	)
	if err != nil {
		return nil, err
	}

	return &PlannerMetrics{
		planTotal:        planTotal,
		planDuration:     planDuration,
		lookupTotal:      lookupTotal,
		unreachablePairs: unreachablePairs,
		skippedLegs:      skippedLegs,
	}, nil
}

// RecordPlan records one planning call.
func (m *PlannerMetrics) RecordPlan(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.planTotal.Add(ctx, 1, attrs)
	m.planDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordMatrix records lookups and unreachable pairs for one matrix build.
func (m *PlannerMetrics) RecordMatrix(ctx context.Context, lookups, unreachable int) {
	if m == nil {
		return
	}
	m.lookupTotal.Add(ctx, int64(lookups))
	m.unreachablePairs.Add(ctx, int64(unreachable))
}

// RecordSkippedLegs records legs that could not be resolved during aggregation.
func (m *PlannerMetrics) RecordSkippedLegs(ctx context.Context, skipped int) {
	if m == nil || skipped == 0 {
		return
	}
	m.skippedLegs.Add(ctx, int64(skipped))
}
