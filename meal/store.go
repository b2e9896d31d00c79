package meal

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("meal: not found")

// Store persists meals keyed by normalized name. Writes are
// last-writer-wins; edits are human-paced so no further coordination is
// required.
type Store interface {
	// Get returns the meal stored under the normalized form of name, or
	// ErrNotFound.
	Get(ctx context.Context, name string) (Meal, error)
	// List returns all meals sorted by normalized name.
	List(ctx context.Context) ([]Meal, error)
	// Put inserts or replaces the meal under its normalized name.
	Put(ctx context.Context, m Meal) error
	// Delete removes the meal, or returns ErrNotFound.
	Delete(ctx context.Context, name string) error
}
