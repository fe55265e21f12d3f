package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/planner"
)

func newBuilder(svc distance.Service) *planner.MatrixBuilder {
	return planner.NewMatrixBuilder(planner.BuilderConfig{
		Service:       svc,
		Concurrency:   4,
		LookupTimeout: time.Second,
		Logger:        zerolog.Nop(),
	})
}

func TestMatrixBuilder_LooksUpEveryOffDiagonalPair(t *testing.T) {
	svc := &stubService{}
	stops := exampleStops()

	m, stats, err := newBuilder(svc).Build(context.Background(), stops)
	require.NoError(t, err)

	n := len(stops)
	assert.Equal(t, n*(n-1), svc.Calls())
	assert.Equal(t, n*(n-1), stats.Lookups)
	assert.Equal(t, n*(n-1), stats.Calls)
	assert.Zero(t, stats.Unreachable)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			e := m.At(i, j)
			if i == j {
				assert.Equal(t, planner.Entry{}, e)
				continue
			}
			want := geo.Haversine(stops[i].Coordinate, stops[j].Coordinate)
			assert.InDelta(t, want, e.Meters, 1e-6)
			assert.InDelta(t, geo.EstimateSeconds(want), e.Seconds, 1e-6)
		}
	}
}

func TestMatrixBuilder_RecordsFailuresAsUnreachable(t *testing.T) {
	stops := exampleStops()
	svc := &stubService{fail: failTouching(stops[3].Coordinate)}

	m, stats, err := newBuilder(svc).Build(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, 12, svc.Calls(), "build continues after failures")
	assert.Equal(t, 6, stats.Unreachable)
	assert.ErrorIs(t, stats.LastError, errStubFailure)
	for i := 0; i < 3; i++ {
		assert.False(t, m.At(i, 3).Reachable())
		assert.False(t, m.At(3, i).Reachable())
	}
	assert.True(t, m.At(0, 1).Reachable())
}

func TestMatrixBuilder_AllLookupsFail(t *testing.T) {
	svc := &stubService{fail: failAll}

	m, stats, err := newBuilder(svc).Build(context.Background(), exampleStops())
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, 12, stats.Unreachable)
	assert.False(t, m.AnyReachable())

	order, err := planner.NearestNeighbor(context.Background(), m, planner.ObjectiveDistance)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, order)
}

func TestMatrixBuilder_InvalidMeasurementIsUnreachable(t *testing.T) {
	svc := distance.Func(func(_ context.Context, _, _ geo.Coordinate, _ distance.Mode) (distance.Measurement, error) {
		return distance.Measurement{Meters: -5, Seconds: 10}, nil
	})

	m, stats, err := newBuilder(svc).Build(context.Background(), exampleStops()[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unreachable)
	assert.False(t, m.AnyReachable())
}

func TestMatrixBuilder_TimeoutCountsAsFailure(t *testing.T) {
	stops := exampleStops()
	svc := &stubService{delay: 5 * time.Second, slow: touches(stops[3].Coordinate)}

	builder := planner.NewMatrixBuilder(planner.BuilderConfig{
		Service:       svc,
		LookupTimeout: 20 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})

	start := time.Now()
	m, stats, err := builder.Build(context.Background(), stops)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 6, stats.Unreachable)
	assert.ErrorIs(t, stats.LastError, context.DeadlineExceeded)
	assert.False(t, m.At(0, 3).Reachable())
	assert.True(t, m.At(0, 1).Reachable())
}

func TestMatrixBuilder_ParentCancellationAborts(t *testing.T) {
	svc := &stubService{delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	m, _, err := newBuilder(svc).Build(ctx, exampleStops())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMatrixBuilder_AlreadyCancelledMakesNoCalls(t *testing.T) {
	svc := &stubService{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newBuilder(svc).Build(ctx, exampleStops())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, svc.Calls())
}

func TestMatrixBuilder_BoundsConcurrency(t *testing.T) {
	svc := &stubService{delay: 10 * time.Millisecond}
	stops := []planner.Stop{
		{ID: "0", Coordinate: at(52.0, 4.0)},
		{ID: "1", Coordinate: at(52.1, 4.1)},
		{ID: "2", Coordinate: at(52.2, 4.2)},
		{ID: "3", Coordinate: at(52.3, 4.3)},
		{ID: "4", Coordinate: at(52.4, 4.4)},
	}

	builder := planner.NewMatrixBuilder(planner.BuilderConfig{
		Service:     svc,
		Concurrency: 2,
		Logger:      zerolog.Nop(),
	})

	_, _, err := builder.Build(context.Background(), stops)
	require.NoError(t, err)
	assert.Equal(t, 20, svc.Calls())
	assert.LessOrEqual(t, svc.maxInFlight.Load(), int64(2))
	assert.GreaterOrEqual(t, svc.maxInFlight.Load(), int64(1))
}

func TestMatrixBuilder_RateLimitSpacesLookups(t *testing.T) {
	svc := &stubService{}

	builder := planner.NewMatrixBuilder(planner.BuilderConfig{
		Service:   svc,
		RateLimit: 50,
		Burst:     1,
		Logger:    zerolog.Nop(),
	})

	start := time.Now()
	// 3 stops = 6 lookups; with a burst of 1 the last waits ~5 intervals of 20ms.
	_, _, err := builder.Build(context.Background(), exampleStops()[:3])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 6, svc.Calls())
}

func TestMatrixBuilder_UsesRowService(t *testing.T) {
	stops := exampleStops()
	svc := &rowStub{}
	svc.fail = func(origin, destination geo.Coordinate) error {
		if origin == stops[0].Coordinate && destination == stops[2].Coordinate {
			return errStubFailure
		}
		return nil
	}

	m, stats, err := newBuilder(svc).Build(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, int64(4), svc.rowCalls.Load(), "one call per origin")
	assert.Zero(t, svc.Calls(), "pairwise lookups are not used")
	assert.Equal(t, 12, stats.Lookups)
	assert.Equal(t, 4, stats.Calls)
	assert.Equal(t, 1, stats.Unreachable)
	assert.False(t, m.At(0, 2).Reachable())
	assert.True(t, m.At(2, 0).Reachable())
}

func TestLazyMatrix_ResolvesOnlyWhatConstructionTouches(t *testing.T) {
	svc := &stubService{}
	stops := exampleStops()
	lazy := newBuilder(svc).Lazy(stops)

	order, err := planner.NearestNeighbor(context.Background(), lazy, planner.ObjectiveDistance)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, order)

	// Rows touched: 0 -> {1,2,3}, 1 -> {2,3}, 2 -> {3}.
	assert.Equal(t, 6, svc.Calls())
	assert.Equal(t, 6, lazy.Stats().Lookups)
	assert.False(t, lazy.At(3, 0).Reachable(), "unresolved entries read as unreachable")

	// Resolving again is free.
	require.NoError(t, lazy.Resolve(context.Background(), 0, []int{1, 2, 3}))
	assert.Equal(t, 6, svc.Calls())
}

func TestLazyMatrix_MatchesEagerOrder(t *testing.T) {
	stops := []planner.Stop{
		{ID: "0", Coordinate: at(52.37, 4.89)},
		{ID: "1", Coordinate: at(52.09, 5.12)},
		{ID: "2", Coordinate: at(51.92, 4.48)},
		{ID: "3", Coordinate: at(52.08, 4.30)},
		{ID: "4", Coordinate: at(52.16, 4.49)},
		{ID: "5", Coordinate: at(52.38, 4.64)},
	}

	eager, _, err := newBuilder(&stubService{}).Build(context.Background(), stops)
	require.NoError(t, err)
	want, err := planner.NearestNeighbor(context.Background(), eager, planner.ObjectiveDistance)
	require.NoError(t, err)

	got, err := planner.NearestNeighbor(context.Background(), newBuilder(&stubService{}).Lazy(stops), planner.ObjectiveDistance)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
