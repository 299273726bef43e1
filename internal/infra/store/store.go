// Package store persists tool registrations so the registry survives
// process restart. Two backends exist: Redis for multi-node
// deployments and an embedded bbolt file for single-node setups.
package store

import (
	"context"

	"github.com/google/uuid"

	"twingate/internal/domain"
)

// ToolStore is the persistent side of the registry. Scope uuid.Nil
// addresses the global namespace. Failures surface as
// STORE_UNAVAILABLE so the registry can refuse the in-memory write.
type ToolStore interface {
	// LoadAll returns every persisted tool keyed by scope then name.
	LoadAll(ctx context.Context) (map[uuid.UUID]map[string]domain.ToolSchema, error)
	// Persist writes one tool under its scope, overwriting any prior
	// definition of the same name.
	Persist(ctx context.Context, scope uuid.UUID, tool domain.ToolSchema) error
	// Remove deletes one tool; removing an absent tool is not an error.
	Remove(ctx context.Context, scope uuid.UUID, name string) error
	Close() error
}
