package repositories

import (
	"context"

	"github.com/tidexp/retrieval-engine/models"
)

// TransactionManager manages storage transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a storage transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction.
	// Rolling back a finished transaction is a no-op.
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ChunkRepository handles chunk persistence
type ChunkRepository interface {
	// LockSource serializes writers of the same source for the lifetime of
	// the bound transaction. Outside a transaction it is a no-op.
	LockSource(ctx context.Context, sourceID string) error

	// InsertBatch inserts chunks in a single round trip
	InsertBatch(ctx context.Context, chunks []*models.Chunk) error

	// GetBySourceID retrieves all chunks of a source ordered by chunk index
	GetBySourceID(ctx context.Context, sourceID string) ([]*models.Chunk, error)

	// GetBySourceIDs retrieves the chunks of several sources ordered by
	// source id, then chunk index
	GetBySourceIDs(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error)

	// DeleteBySourceID removes every chunk of a source and returns how many were removed
	DeleteBySourceID(ctx context.Context, sourceID string) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ChunkRepository
}

// Store is a chunk storage backend
type Store interface {
	Chunks() ChunkRepository
	TransactionManager() TransactionManager
	HealthCheck(ctx context.Context) error
	Close() error
}
