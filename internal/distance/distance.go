// Package distance defines the travel distance capability consumed by the route planner
// and the decorators that make it cheaper and more robust.
package distance

import (
	"context"
	"errors"
	"math"

	"github.com/routewise/routewise/internal/geo"
)

// Sentinel errors for distance lookups.
var (
	// ErrUnavailable indicates the provider is down, unreachable, or its circuit breaker is open.
	ErrUnavailable = errors.New("distance provider unavailable")
	// ErrNoRoute indicates the provider answered but found no route between the points.
	ErrNoRoute = errors.New("no route between the given points")
	// ErrRateLimited indicates the provider quota has been exceeded.
	ErrRateLimited = errors.New("distance provider rate limit exceeded")
	// ErrInvalidCoordinates indicates the provider rejected the coordinates.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Mode is the travel mode used for a lookup.
type Mode string

const (
	// ModeDriving is the only mode the route planner requests.
	ModeDriving Mode = "driving"
	// ModeCycling is supported by providers for completeness.
	ModeCycling Mode = "cycling"
	// ModeWalking is supported by providers for completeness.
	ModeWalking Mode = "walking"
)

// Measurement is the travel cost between two points.
type Measurement struct {
	Meters  float64 `json:"meters"`
	Seconds float64 `json:"seconds"`
}

// Valid reports whether both values are finite and non-negative.
func (m Measurement) Valid() bool {
	return m.Meters >= 0 && m.Seconds >= 0 &&
		!math.IsInf(m.Meters, 0) && !math.IsInf(m.Seconds, 0) &&
		!math.IsNaN(m.Meters) && !math.IsNaN(m.Seconds)
}

// Leg is a richer single-leg answer carrying the route geometry.
type Leg struct {
	Measurement
	// Geometry is an encoded polyline (precision 5); empty when the provider has none.
	Geometry string
}

// RowResult is one destination of a one-to-many lookup.
type RowResult struct {
	Measurement
	// Err is non-nil when this destination could not be resolved.
	Err error
}

// Service answers pairwise distance lookups. Implementations must be safe for
// concurrent use.
type Service interface {
	Distance(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (Measurement, error)
}

// LegService is implemented by services that can return a richer per-leg answer.
type LegService interface {
	Leg(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (*Leg, error)
}

// RowService is implemented by services that resolve one origin against many
// destinations in a single call. The result has one entry per destination, in order.
type RowService interface {
	DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode Mode) ([]RowResult, error)
}

// Error provides detailed error information from a distance provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the lookup can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrUnavailable) || errors.Is(e.Err, ErrRateLimited)
}

// Func adapts a plain function to the Service interface.
type Func func(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (Measurement, error)

// Distance calls f.
func (f Func) Distance(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (Measurement, error) {
	return f(ctx, origin, destination, mode)
}
