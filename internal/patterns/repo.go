package patterns

import (
	"context"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.SymbolPattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.SymbolPattern) error {
	return f(ctx, patterns)
}
