package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Status summarizes a provider for status endpoints.
type Status string

const (
	// StatusUp means the circuit is closed and the last call succeeded.
	StatusUp Status = "UP"

	// StatusDegraded means the circuit is half-open or recent calls failed.
	StatusDegraded Status = "DEGRADED"

	// StatusDown means the circuit is open and calls are rejected.
	StatusDown Status = "DOWN"
)

// breakerReporter exposes circuit breaker state; *Client implements it.
type breakerReporter interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// ProviderHealth is a point-in-time view of one provider.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures int
}

// Status derives the provider status from the circuit and recent outcomes.
func (h ProviderHealth) Status() Status {
	switch h.CircuitState {
	case gobreaker.StateOpen:
		return StatusDown
	case gobreaker.StateHalfOpen:
		return StatusDegraded
	}
	if h.ConsecutiveFailures > 0 {
		return StatusDegraded
	}
	return StatusUp
}

// Registry tracks provider clients and the outcome of their calls.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerRecord
}

type providerRecord struct {
	breaker             breakerReporter
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	consecutiveFailures int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*providerRecord)}
}

// Register adds a provider. Registering a name again replaces its record.
func (r *Registry) Register(name string, breaker breakerReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &providerRecord{breaker: breaker}
}

// RecordSuccess notes a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return
	}
	now := time.Now()
	p.lastSuccessAt = &now
	p.consecutiveFailures = 0
}

// RecordFailure notes a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return
	}
	now := time.Now()
	p.lastFailureAt = &now
	p.consecutiveFailures++
	if err != nil {
		p.lastError = err.Error()
	}
}

// Health returns the health of one provider, or nil when it is not registered.
func (r *Registry) Health(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil
	}
	h := p.snapshot(name)
	return &h
}

// All returns the health of every provider ordered by name.
func (r *Registry) All() []ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, p.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether no provider circuit is open.
func (r *Registry) Healthy() bool {
	for _, h := range r.All() {
		if h.Status() == StatusDown {
			return false
		}
	}
	return true
}

func (p *providerRecord) snapshot(name string) ProviderHealth {
	h := ProviderHealth{
		Name:                name,
		LastSuccessAt:       p.lastSuccessAt,
		LastFailureAt:       p.lastFailureAt,
		LastError:           p.lastError,
		ConsecutiveFailures: p.consecutiveFailures,
	}
	if p.breaker != nil {
		h.CircuitState = p.breaker.CircuitBreakerState()
		h.Counts = p.breaker.CircuitBreakerCounts()
	}
	return h
}
