package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/provider/resilience"
)

// fastConfig retries quickly and never trips unless a test asks for it.
func fastConfig(name string) resilience.ClientConfig {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Timeout = 5 * time.Second
	cfg.InitialInterval = 10 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	cfg.Breaker = &resilience.BreakerConfig{MinRequests: 100}
	return cfg
}

func get(t *testing.T, client *resilience.Client, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"distances":[[0]]}`))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("ors"))

	resp, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ors", client.Name())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("retry")
	cfg.MaxRetries = 5
	client := resilience.NewClient(cfg)

	resp, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ExhaustedRetriesReturnLastResponse(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig("exhausted")
	cfg.MaxRetries = 2
	client := resilience.NewClient(cfg)

	resp, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("4xx"))

	resp, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig("trip")
	cfg.MaxRetries = 1
	cfg.Breaker = &resilience.BreakerConfig{MinRequests: 4, FailureRatio: 0.5, Cooldown: time.Minute}
	client := resilience.NewClient(cfg)

	for i := 0; i < 2; i++ {
		_, _ = get(t, client, context.Background(), server.URL)
	}
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())
	before := attempts.Load()

	_, err := get(t, client, context.Background(), server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, attempts.Load(), "an open circuit rejects without calling the provider")
}

func TestClient_CancelledCallsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := fastConfig("cancel")
	cfg.MaxRetries = 0
	cfg.Breaker = &resilience.BreakerConfig{MinRequests: 1, FailureRatio: 0.1}
	client := resilience.NewClient(cfg)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := get(t, client, ctx, server.URL)
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreakerState())
	assert.Zero(t, client.CircuitBreakerCounts().TotalFailures)
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("timeout")
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	client := resilience.NewClient(cfg)

	_, err := get(t, client, context.Background(), server.URL)
	assert.Error(t, err)
}

func TestClient_RateLimitSpacesRequests(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
	}))
	defer server.Close()

	cfg := fastConfig("rate")
	cfg.RateLimit = 20 // one token every 50ms
	cfg.Burst = 1
	client := resilience.NewClient(cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := get(t, client, context.Background(), server.URL)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), attempts.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestClient_RateLimitHonoursDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer server.Close()

	cfg := fastConfig("rate-deadline")
	cfg.RateLimit = 0.1
	cfg.Burst = 1
	client := resilience.NewClient(cfg)

	_, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = get(t, client, ctx, server.URL)
	assert.Error(t, err)
}

func TestClient_RecordsOutcomes(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("ors")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	_, err := get(t, client, context.Background(), server.URL)
	require.NoError(t, err)

	health := registry.Health("ors")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
	assert.Equal(t, resilience.StatusUp, health.Status())

	status.Store(http.StatusTooManyRequests)
	_, err = get(t, client, context.Background(), server.URL)
	require.NoError(t, err)

	health = registry.Health("ors")
	require.NotNil(t, health)
	assert.Contains(t, health.LastError, "rate limited")
	assert.Equal(t, 1, health.ConsecutiveFailures)
	assert.Equal(t, resilience.StatusDegraded, health.Status())
	assert.True(t, registry.Healthy(), "a 429 does not open the circuit")
}

func TestBreakerConfig_ShouldTrip(t *testing.T) {
	cfg := resilience.DefaultBreakerConfig()

	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{name: "no requests", counts: gobreaker.Counts{}, want: false},
		{name: "below minimum", counts: gobreaker.Counts{Requests: 4, TotalFailures: 4}, want: false},
		{name: "low failure ratio", counts: gobreaker.Counts{Requests: 10, TotalFailures: 4}, want: false},
		{name: "half failed", counts: gobreaker.Counts{Requests: 10, TotalFailures: 5}, want: true},
		{name: "all failed at minimum", counts: gobreaker.Counts{Requests: 5, TotalFailures: 5}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.ShouldTrip(tt.counts))
		})
	}
}

func TestBreakerConfig_CustomTrip(t *testing.T) {
	cfg := resilience.BreakerConfig{
		Trip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}

	assert.False(t, cfg.ShouldTrip(gobreaker.Counts{Requests: 100, TotalFailures: 100, ConsecutiveFailures: 1}))
	assert.True(t, cfg.ShouldTrip(gobreaker.Counts{Requests: 2, ConsecutiveFailures: 2}))
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("ors")

	assert.Equal(t, "ors", cfg.Name)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(3), cfg.MaxRetries)
	require.NotNil(t, cfg.Breaker)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, uint32(5), cfg.Breaker.MinRequests)
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "server error: Bad Gateway", err.Error())
}
