package plans

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It is used when no database is configured and in tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewInMemoryRepository creates a new in-memory plan repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		plans: make(map[string]*Plan),
	}
}

// Get retrieves a plan by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}

	cpy := *p
	return &cpy, nil
}

// List retrieves plans newest first.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	items := make([]*Plan, 0, len(r.plans))
	for _, p := range r.plans {
		cpy := *p
		items = append(items, &cpy)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if opts.Cursor != "" {
		idx := -1
		for i, p := range items {
			if p.ID == opts.Cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("unknown cursor %q: %w", opts.Cursor, ErrPlanNotFound)
		}
		items = items[idx+1:]
	}

	limit := listLimit(opts)
	result := &ListResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = items[limit-1].ID
	}
	return result, nil
}

// Create stores a new plan.
func (r *InMemoryRepository) Create(_ context.Context, plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plans[plan.ID]; exists {
		return fmt.Errorf("plan %s already exists", plan.ID)
	}
	cpy := *plan
	r.plans[plan.ID] = &cpy
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
