package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routewise/routewise/internal/api/middleware"
)

func limited(limit middleware.RateLimit) http.Handler {
	return middleware.RequestID(middleware.RateLimitByIP(limit)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
}

func hit(h http.Handler, ip, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP(t *testing.T) {
	h := limited(middleware.RateLimit{Requests: 3, Window: time.Minute})

	for i := range 3 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1", "/v1/plans").Code, "request %d", i+1)
	}

	rec := hit(h, "10.0.0.1", "/v1/plans")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "too-many-requests")
	assert.Contains(t, rec.Body.String(), `"instance":"/v1/plans"`)
	assert.Contains(t, rec.Body.String(), rec.Header().Get(middleware.RequestIDHeader))

	// Other clients keep their own budget.
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2", "/v1/plans").Code)
}

func TestRateLimitByIP_RetryAfterRoundsUp(t *testing.T) {
	h := limited(middleware.RateLimit{Requests: 1, Window: 1500 * time.Millisecond})

	hit(h, "192.0.2.7", "/")
	rec := hit(h, "192.0.2.7", "/")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_ZeroDisables(t *testing.T) {
	h := limited(middleware.RateLimit{})

	for range 50 {
		require.Equal(t, http.StatusOK, hit(h, "198.51.100.1", "/").Code)
	}
}

func TestDefaultRateLimits(t *testing.T) {
	limits := middleware.DefaultRateLimits()

	assert.Equal(t, middleware.RateLimit{Requests: 30, Window: time.Minute}, limits.Planning)
	assert.Equal(t, middleware.RateLimit{Requests: 100, Window: time.Minute}, limits.Standard)
	assert.Equal(t, middleware.RateLimit{Requests: 10, Window: time.Minute}, limits.Admin)
}
