package worker_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/planner"
	"github.com/routewise/routewise/internal/plans"
	"github.com/routewise/routewise/internal/worker"
)

type fakePurger struct {
	purged int64
	err    error
	calls  int
}

func (p *fakePurger) Purge(context.Context) (int64, error) {
	p.calls++
	return p.purged, p.err
}

func newPlanService(svc distance.Service, repo plans.Repository) *plans.Service {
	return plans.NewService(plans.ServiceConfig{
		Repository: repo,
		Planner:    planner.New(planner.Config{Service: svc, Logger: zerolog.Nop()}),
		Logger:     zerolog.Nop(),
	})
}

func TestProcessor_PlanRoute(t *testing.T) {
	repo := plans.NewInMemoryRepository()
	p := worker.NewProcessor(worker.ProcessorConfig{
		Plans:  newPlanService(distance.NewHaversineService(), repo),
		Logger: zerolog.Nop(),
	})

	msg := `{
		"job_type": "plan_route",
		"plan": {
			"stops": [
				{"id": "depot-1", "coordinate": {"lat": 52.37, "lon": 4.90}},
				{"id": "a", "coordinate": {"lat": 52.38, "lon": 4.91}}
			]
		}
	}`
	err := p.Process(context.Background(), []byte(msg))
	require.NoError(t, err)

	page, err := repo.List(context.Background(), plans.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, planner.StatusComplete, page.Items[0].Result.Status)
	assert.Len(t, page.Items[0].Result.Route.Visits, 2)
}

func TestProcessor_PlanRoute_InvalidRequestIsDiscarded(t *testing.T) {
	repo := plans.NewInMemoryRepository()
	p := worker.NewProcessor(worker.ProcessorConfig{
		Plans:  newPlanService(distance.NewHaversineService(), repo),
		Logger: zerolog.Nop(),
	})

	msg := `{"job_type": "plan_route", "plan": {"stops": [{"id": "a", "coordinate": {"lat": 95, "lon": 4.9}}]}}`
	err := p.Process(context.Background(), []byte(msg))

	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid planning request")
	assert.True(t, worker.ShouldAck(err))

	page, err := repo.List(context.Background(), plans.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestProcessor_PlanRoute_MissingCoordinatesAreDiscarded(t *testing.T) {
	svc := &countingService{}
	repo := plans.NewInMemoryRepository()
	p := worker.NewProcessor(worker.ProcessorConfig{
		Plans:  newPlanService(svc, repo),
		Logger: zerolog.Nop(),
	})

	msg := `{"job_type": "plan_route", "plan": {"stops": [
		{"id": "a", "coordinate": {"lat": 52.37, "lon": 4.90}},
		{"id": "b"},
		{"id": "c", "coordinate": {"lat": 52.40}}
	]}}`
	err := p.Process(context.Background(), []byte(msg))

	var verr *planner.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
	assert.True(t, worker.ShouldAck(err))
	assert.Zero(t, svc.count())

	page, err := repo.List(context.Background(), plans.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestProcessor_PlanRoute_MissingPlanIsDiscarded(t *testing.T) {
	p := worker.NewProcessor(worker.ProcessorConfig{
		Plans:  newPlanService(distance.NewHaversineService(), plans.NewInMemoryRepository()),
		Logger: zerolog.Nop(),
	})

	err := p.Process(context.Background(), []byte(`{"job_type": "plan_route"}`))
	require.Error(t, err)
	assert.True(t, worker.ShouldAck(err))
}

func TestProcessor_PlanRoute_ProviderOutageIsRetried(t *testing.T) {
	failing := &countingService{failFrom: map[geo.Coordinate]bool{hubA: true, hubB: true}}
	p := worker.NewProcessor(worker.ProcessorConfig{
		Plans:  newPlanService(failing, plans.NewInMemoryRepository()),
		Logger: zerolog.Nop(),
	})

	msg := `{"job_type": "plan_route", "plan": {"stops": [
		{"id": "a", "coordinate": {"lat": 52.37, "lon": 4.90}},
		{"id": "b", "coordinate": {"lat": 52.34, "lon": 4.89}}
	]}}`
	err := p.Process(context.Background(), []byte(msg))

	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrNoDistanceData)
	assert.False(t, worker.ShouldAck(err))
}

func TestProcessor_MalformedMessage(t *testing.T) {
	p := worker.NewProcessor(worker.ProcessorConfig{Logger: zerolog.Nop()})

	err := p.Process(context.Background(), []byte(`{not json`))

	assert.ErrorIs(t, err, worker.ErrMalformedMessage)
	assert.False(t, worker.ShouldAck(err))
}

func TestProcessor_UnknownJobTypeIsDiscarded(t *testing.T) {
	p := worker.NewProcessor(worker.ProcessorConfig{Logger: zerolog.Nop()})

	err := p.Process(context.Background(), []byte(`{"job_type": "provider_refresh"}`))

	require.Error(t, err)
	assert.True(t, worker.ShouldAck(err))
}

func TestProcessor_HealthCheck(t *testing.T) {
	svc := &countingService{}
	p := worker.NewProcessor(worker.ProcessorConfig{Distance: svc, Logger: zerolog.Nop()})

	require.NoError(t, p.Process(context.Background(), []byte(`{"job_type": "health_check"}`)))
	assert.Equal(t, 1, svc.count())
}

func TestProcessor_HealthCheck_Failure(t *testing.T) {
	p := worker.NewProcessor(worker.ProcessorConfig{
		Distance: &mockDistance{err: errBoom},
		Logger:   zerolog.Nop(),
	})

	err := p.Process(context.Background(), []byte(`{"job_type": "health_check"}`))

	assert.ErrorIs(t, err, errBoom)
	assert.False(t, worker.ShouldAck(err))
}

func TestProcessor_DistanceCachePurge(t *testing.T) {
	purger := &fakePurger{purged: 12}
	p := worker.NewProcessor(worker.ProcessorConfig{Purger: purger, Logger: zerolog.Nop()})

	require.NoError(t, p.Process(context.Background(), []byte(`{"job_type": "distance_cache_purge"}`)))
	assert.Equal(t, 1, purger.calls)

	purger.err = errBoom
	err := p.Process(context.Background(), []byte(`{"job_type": "distance_cache_purge"}`))
	assert.ErrorIs(t, err, errBoom)
}

func TestProcessor_DistanceCachePurge_NoStore(t *testing.T) {
	p := worker.NewProcessor(worker.ProcessorConfig{Logger: zerolog.Nop()})

	assert.NoError(t, p.Process(context.Background(), []byte(`{"job_type": "distance_cache_purge"}`)))
}

func TestProcessor_DistanceCacheWarm(t *testing.T) {
	svc := &countingService{}
	warm := worker.NewWarmJob(worker.WarmJobConfig{
		Config:  worker.WarmConfig{Targets: []worker.WarmTarget{{Name: "Test", Hubs: []geo.Coordinate{hubA, hubB}}}},
		Service: svc,
		Logger:  zerolog.Nop(),
	})
	p := worker.NewProcessor(worker.ProcessorConfig{Warm: warm, Logger: zerolog.Nop()})

	require.NoError(t, p.Process(context.Background(), []byte(`{"job_type": "distance_cache_warm"}`)))
	assert.Equal(t, 2, svc.count())
}

func TestProcessor_DistanceCacheWarm_MostlyFailing(t *testing.T) {
	svc := &countingService{failFrom: map[geo.Coordinate]bool{hubA: true, hubB: true}}
	warm := worker.NewWarmJob(worker.WarmJobConfig{
		Config:  worker.WarmConfig{Targets: []worker.WarmTarget{{Name: "Test", Hubs: []geo.Coordinate{hubA, hubB, hubC}}}},
		Service: svc,
		Logger:  zerolog.Nop(),
	})
	p := worker.NewProcessor(worker.ProcessorConfig{Warm: warm, Logger: zerolog.Nop()})

	err := p.Process(context.Background(), []byte(`{"job_type": "distance_cache_warm"}`))
	assert.ErrorContains(t, err, "too many warm-up failures")
}

type mockDistance struct {
	err error
}

func (m *mockDistance) Distance(context.Context, geo.Coordinate, geo.Coordinate, distance.Mode) (distance.Measurement, error) {
	return distance.Measurement{}, m.err
}
