package distance

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/geo"
)

// FallbackConfig holds configuration for the fallback decorator.
type FallbackConfig struct {
	// Primary is asked first (required).
	Primary Service

	// Secondary answers when the primary is unavailable. Defaults to a HaversineService.
	Secondary Service

	// Enabled switches the fallback at runtime. Nil means always enabled.
	Enabled func(ctx context.Context) bool

	// Logger for fallback decisions.
	Logger zerolog.Logger
}

// Fallback asks a primary service and falls back to a secondary one when the
// primary is unavailable or rate limited. A "no route" answer from the primary
// is authoritative and never replaced.
type Fallback struct {
	primary   Service
	secondary Service
	enabled   func(ctx context.Context) bool
	logger    zerolog.Logger
}

// NewFallback creates a fallback decorator. When the primary implements
// RowService the returned value does too.
func NewFallback(cfg FallbackConfig) Service {
	secondary := cfg.Secondary
	if secondary == nil {
		secondary = NewHaversineService()
	}
	f := &Fallback{
		primary:   cfg.Primary,
		secondary: secondary,
		enabled:   cfg.Enabled,
		logger:    cfg.Logger,
	}
	if rows, ok := cfg.Primary.(RowService); ok {
		return &fallbackRows{Fallback: f, rows: rows}
	}
	return f
}

// Distance implements Service.
func (f *Fallback) Distance(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (Measurement, error) {
	m, err := f.primary.Distance(ctx, origin, destination, mode)
	if err == nil || !f.shouldFallBack(ctx, err) {
		return m, err
	}

	f.logger.Warn().Err(err).
		Str("origin", origin.String()).
		Str("destination", destination.String()).
		Msg("primary distance provider failed, using fallback estimate")

	return f.secondary.Distance(ctx, origin, destination, mode)
}

// Leg implements LegService.
func (f *Fallback) Leg(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (*Leg, error) {
	legs, ok := f.primary.(LegService)
	if !ok {
		m, err := f.Distance(ctx, origin, destination, mode)
		if err != nil {
			return nil, err
		}
		return &Leg{Measurement: m}, nil
	}

	leg, err := legs.Leg(ctx, origin, destination, mode)
	if err == nil || !f.shouldFallBack(ctx, err) {
		return leg, err
	}

	f.logger.Warn().Err(err).
		Str("origin", origin.String()).
		Str("destination", destination.String()).
		Msg("primary leg lookup failed, using fallback estimate")

	if secondaryLegs, ok := f.secondary.(LegService); ok {
		return secondaryLegs.Leg(ctx, origin, destination, mode)
	}
	m, err := f.secondary.Distance(ctx, origin, destination, mode)
	if err != nil {
		return nil, err
	}
	return &Leg{Measurement: m}, nil
}

// shouldFallBack reports whether err is a transient provider failure and the
// fallback is switched on. The caller's own cancellation is never masked.
func (f *Fallback) shouldFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if f.enabled != nil && !f.enabled(ctx) {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

type fallbackRows struct {
	*Fallback
	rows RowService
}

// DistanceRow resolves the row with the primary and fills failed cells from the secondary.
func (f *fallbackRows) DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode Mode) ([]RowResult, error) {
	results, err := f.rows.DistanceRow(ctx, origin, destinations, mode)
	if err != nil {
		if !f.shouldFallBack(ctx, err) {
			return nil, err
		}
		results = make([]RowResult, len(destinations))
		for i := range results {
			results[i].Err = err
		}
	}

	for i := range results {
		if i >= len(destinations) {
			break
		}
		if results[i].Err == nil || !f.shouldFallBack(ctx, results[i].Err) {
			continue
		}
		m, secErr := f.secondary.Distance(ctx, origin, destinations[i], mode)
		results[i] = RowResult{Measurement: m, Err: secErr}
	}

	return results, nil
}

var (
	_ Service    = (*Fallback)(nil)
	_ LegService = (*Fallback)(nil)
	_ RowService = (*fallbackRows)(nil)
)
