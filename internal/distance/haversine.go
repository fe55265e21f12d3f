package distance

import (
	"context"

	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/pkg/polyline"
)

// HaversineProviderName identifies the local estimator in logs and metrics.
const HaversineProviderName = "haversine"

// HaversineService estimates travel cost from the great-circle distance.
// It never fails for valid coordinates and makes no external calls.
type HaversineService struct{}

// NewHaversineService creates a local estimator.
func NewHaversineService() *HaversineService {
	return &HaversineService{}
}

// Name returns the provider name.
func (s *HaversineService) Name() string {
	return HaversineProviderName
}

// Distance returns the straight-line distance and a duration at geo.FallbackSpeedKmh.
func (s *HaversineService) Distance(ctx context.Context, origin, destination geo.Coordinate, _ Mode) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}
	if err := validatePair(origin, destination); err != nil {
		return Measurement{}, err
	}
	meters := geo.Haversine(origin, destination)
	return Measurement{Meters: meters, Seconds: geo.EstimateSeconds(meters)}, nil
}

// Leg returns the estimate with a two-point geometry.
func (s *HaversineService) Leg(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (*Leg, error) {
	m, err := s.Distance(ctx, origin, destination, mode)
	if err != nil {
		return nil, err
	}
	return &Leg{
		Measurement: m,
		Geometry:    polyline.Encode([]geo.Coordinate{origin, destination}),
	}, nil
}

// DistanceRow estimates one origin against many destinations.
func (s *HaversineService) DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode Mode) ([]RowResult, error) {
	out := make([]RowResult, len(destinations))
	for i, d := range destinations {
		m, err := s.Distance(ctx, origin, d, mode)
		out[i] = RowResult{Measurement: m, Err: err}
	}
	return out, ctx.Err()
}

func validatePair(origin, destination geo.Coordinate) error {
	if err := origin.Validate(); err != nil {
		return &Error{
			Provider: HaversineProviderName,
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if err := destination.Validate(); err != nil {
		return &Error{
			Provider: HaversineProviderName,
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	return nil
}

var (
	_ Service    = (*HaversineService)(nil)
	_ LegService = (*HaversineService)(nil)
	_ RowService = (*HaversineService)(nil)
)
