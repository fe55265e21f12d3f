package featureflags

import "context"

// Repository stores flag overrides. Keys absent from the store take their
// definition's default.
type Repository interface {
	List(ctx context.Context) ([]Flag, error)

	// Save writes flags in one transaction and records reason against each
	// change.
	Save(ctx context.Context, flags []Flag, reason string) error
}
