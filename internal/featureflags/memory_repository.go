package featureflags

import (
	"context"
	"sync"
	"time"
)

// Change is one recorded flag write.
type Change struct {
	Key       string
	Value     any
	Reason    string
	ChangedAt time.Time
}

// InMemoryRepository keeps overrides in process. It is used when no database
// is configured.
type InMemoryRepository struct {
	mu      sync.RWMutex
	flags   map[string]Flag
	changes []Change
	now     func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		flags: make(map[string]Flag),
		now:   time.Now,
	}
}

// List returns the stored overrides.
func (r *InMemoryRepository) List(_ context.Context) ([]Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Flag, 0, len(r.flags))
	for _, f := range r.flags {
		out = append(out, f)
	}
	return out, nil
}

// Save stores flags and appends them to the change log.
func (r *InMemoryRepository) Save(_ context.Context, flags []Flag, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, f := range flags {
		f.UpdatedAt = now
		r.flags[f.Key] = f
		r.changes = append(r.changes, Change{Key: f.Key, Value: f.Value, Reason: reason, ChangedAt: now})
	}
	return nil
}

// Changes returns the change log, oldest first.
func (r *InMemoryRepository) Changes() []Change {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Change(nil), r.changes...)
}

var _ Repository = (*InMemoryRepository)(nil)
