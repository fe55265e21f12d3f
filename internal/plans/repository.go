package plans

import "context"

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// ListOptions contains options for listing plans.
type ListOptions struct {
	Limit int
	// Cursor is the ID of the last plan of the previous page.
	Cursor string
}

// ListResult contains one page of plans, newest first.
type ListResult struct {
	Items      []*Plan
	NextCursor string
}

// Repository defines the interface for plan persistence.
type Repository interface {
	// Get retrieves a plan by ID. Returns ErrPlanNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*Plan, error)

	// List retrieves plans newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Create stores a new plan.
	Create(ctx context.Context, plan *Plan) error
}

func listLimit(opts ListOptions) int {
	if opts.Limit <= 0 {
		return DefaultListLimit
	}
	return opts.Limit
}
