package planner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/planner"
	"github.com/routewise/routewise/pkg/polyline"
)

var errStubFailure = errors.New("stub: lookup failed")

// stubService answers with haversine distances and counts calls.
type stubService struct {
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	// delay is applied to every lookup unless slow is set, in which case it only
	// applies when slow returns true.
	delay time.Duration
	slow  func(origin, destination geo.Coordinate) bool

	fail func(origin, destination geo.Coordinate) error
}

func (s *stubService) Distance(ctx context.Context, origin, destination geo.Coordinate, _ distance.Mode) (distance.Measurement, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if s.delay > 0 && (s.slow == nil || s.slow(origin, destination)) {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return distance.Measurement{}, ctx.Err()
		}
	}

	if s.fail != nil {
		if err := s.fail(origin, destination); err != nil {
			return distance.Measurement{}, err
		}
	}

	m := geo.Haversine(origin, destination)
	return distance.Measurement{Meters: m, Seconds: geo.EstimateSeconds(m)}, nil
}

func (s *stubService) Calls() int {
	return int(s.calls.Load())
}

// rowStub batches a row into one call.
type rowStub struct {
	stubService
	rowCalls atomic.Int64
}

func (s *rowStub) DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode distance.Mode) ([]distance.RowResult, error) {
	s.rowCalls.Add(1)
	out := make([]distance.RowResult, len(destinations))
	for i, d := range destinations {
		if s.fail != nil {
			if err := s.fail(origin, d); err != nil {
				out[i].Err = err
				continue
			}
		}
		m := geo.Haversine(origin, d)
		out[i].Measurement = distance.Measurement{Meters: m, Seconds: geo.EstimateSeconds(m)}
	}
	return out, ctx.Err()
}

// legStub answers legs 10% longer than the pairwise lookup, with geometry.
type legStub struct {
	stubService
	legCalls atomic.Int64
	failLeg  func(origin, destination geo.Coordinate) bool
}

func (s *legStub) Leg(_ context.Context, origin, destination geo.Coordinate, _ distance.Mode) (*distance.Leg, error) {
	s.legCalls.Add(1)
	if s.failLeg != nil && s.failLeg(origin, destination) {
		return nil, &distance.Error{Code: "NO_ROUTE", Message: "no route", Err: distance.ErrNoRoute}
	}
	m := geo.Haversine(origin, destination) * 1.1
	return &distance.Leg{
		Measurement: distance.Measurement{Meters: m, Seconds: geo.EstimateSeconds(m)},
		Geometry:    polyline.Encode([]geo.Coordinate{origin, destination}),
	}, nil
}

func at(lat, lon float64) geo.Coordinate {
	return geo.Coordinate{Lat: lat, Lon: lon}
}

// exampleStops is the depot at (0,0) followed by (0,1), (0,2), and (10,10).
func exampleStops() []planner.Stop {
	return []planner.Stop{
		{ID: "depot", Coordinate: at(0, 0), Address: "Depot"},
		{ID: "a", Coordinate: at(0, 1)},
		{ID: "b", Coordinate: at(0, 2)},
		{ID: "c", Coordinate: at(10, 10)},
	}
}

func touches(c geo.Coordinate) func(origin, destination geo.Coordinate) bool {
	return func(origin, destination geo.Coordinate) bool {
		return origin == c || destination == c
	}
}

func failTouching(c geo.Coordinate) func(origin, destination geo.Coordinate) error {
	match := touches(c)
	return func(origin, destination geo.Coordinate) error {
		if match(origin, destination) {
			return errStubFailure
		}
		return nil
	}
}

func failAll(geo.Coordinate, geo.Coordinate) error {
	return errStubFailure
}
