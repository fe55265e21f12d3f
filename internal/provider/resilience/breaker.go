// Package resilience wraps outbound distance provider calls with rate limiting,
// circuit breakers, timeouts, and retries, and tracks provider health.
package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker in front of a provider.
type BreakerConfig struct {
	// HalfOpenProbes is how many requests may test a half-open circuit (default: 1).
	HalfOpenProbes uint32

	// CountWindow clears closed-state counts periodically. Zero keeps them
	// until the state changes.
	CountWindow time.Duration

	// Cooldown is how long the circuit stays open before probing (default: 60 seconds).
	Cooldown time.Duration

	// MinRequests and FailureRatio decide when a closed circuit opens
	// (defaults: 5 requests, half of them failed).
	MinRequests  uint32
	FailureRatio float64

	// Trip replaces the MinRequests/FailureRatio rule when set.
	Trip func(counts gobreaker.Counts) bool

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the breaker settings used for distance providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		HalfOpenProbes: 1,
		Cooldown:       60 * time.Second,
		MinRequests:    5,
		FailureRatio:   0.5,
	}
}

// ShouldTrip reports whether counts open the circuit.
func (c BreakerConfig) ShouldTrip(counts gobreaker.Counts) bool {
	if c.Trip != nil {
		return c.Trip(counts)
	}
	if counts.Requests == 0 || counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	if c.Cooldown == 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = d.FailureRatio
	}
	return c
}

// newBreaker builds the breaker for a provider. A cancelled caller is not a
// provider failure: planners abandon lookups when a plan times out.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.HalfOpenProbes,
		Interval:      cfg.CountWindow,
		Timeout:       cfg.Cooldown,
		ReadyToTrip:   cfg.ShouldTrip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}
