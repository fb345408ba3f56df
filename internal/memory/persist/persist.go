// Package persist gives the memory Store optional durability: a Backend
// saves every stored Item and reloads them on startup, so long-term and
// episodic memory survive a process restart. One struct per SQL backend,
// reached through a small interface scoped to exactly what the
// orchestrator needs: persist and reload memory items.
package persist

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrVectorSearchUnsupported reports that a backend cannot evaluate
// similarity in the database itself. No Backend method returns it: the
// interface has no search operation, and the memory package always scores
// similarity in process.
var ErrVectorSearchUnsupported = errors.New("backend does not support vector search")

// Record is the durable shape of a memory.Item, kept independent of the
// memory package to avoid an import cycle (persist is imported BY memory).
type Record struct {
	ID           string
	Content      string
	Type         string
	CreatedAt    time.Time
	Tags         []string
	Relevance    float64
	AccessCount  int
	LastAccessed time.Time
	ExpiresAt    time.Time
	Embedding    []float64
}

// Backend persists and reloads memory Records.
type Backend interface {
	// Save upserts a record.
	Save(ctx context.Context, r *Record) error
	// LoadAll returns every non-expired record, for restoring a Store at
	// startup.
	LoadAll(ctx context.Context) ([]*Record, error)
	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error
	// Close releases the backend's underlying connection.
	Close() error
}
