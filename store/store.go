// Package store defines the Memory Store capability: persisting
// fragments per scope and answering nearest-neighbor queries over
// their embeddings.
package store

import (
	"context"

	"github.com/nimlabs/memoria/core"
)

// Filters narrows a query or list call. All fields are optional and
// AND-combined.
type Filters struct {
	MinImportance int
	Speaker       core.Speaker
	Type          core.FragmentType
}

func (f Filters) hasSpeaker() bool { return f.Speaker != "" }
func (f Filters) hasType() bool    { return f.Type != "" }

// ScoredFragment pairs a fragment with its similarity to a query
// vector, in [0,1].
type ScoredFragment struct {
	Fragment   *core.MemoryFragment
	Similarity float64
}

// Store is the Memory Store capability. A single Store instance is a
// process-wide singleton shared by every scope: scopes are isolated
// by the collection key, not by having separate Store instances.
type Store interface {
	// Insert computes the fragment's embedding via the bound adapter,
	// assigns FragmentID, and persists it. Idempotent on
	// (scope, content, speaker) within a short dedup window.
	Insert(ctx context.Context, fragment *core.MemoryFragment) error

	// Query returns fragments under scope ranked by similarity to
	// queryText, filtered and capped at topK.
	Query(ctx context.Context, scope core.Scope, queryText string, topK int, filters Filters) ([]ScoredFragment, error)

	// Count returns the number of fragments stored under scope.
	Count(ctx context.Context, scope core.Scope) (int, error)

	// List returns fragments under scope ordered by insertion time
	// descending, capped at limit.
	List(ctx context.Context, scope core.Scope, limit int, filters Filters) ([]*core.MemoryFragment, error)

	// DeleteScope removes every fragment under scope, atomically from
	// the store's perspective.
	DeleteScope(ctx context.Context, scope core.Scope) error

	// Close releases underlying resources.
	Close() error
}
