package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"go.uber.org/zap"
)

// ErrTxDone is returned when committing a finished transaction
var ErrTxDone = errors.New("transaction has already been committed or rolled back")

type transactionContextKey struct{}

type transactionManager struct {
	store *Store
}

// Begin starts a new transaction
func (m *transactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx := &transaction{
		store:  m.store,
		staged: make(map[string][]*models.Chunk),
		held:   make(map[string]bool),
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// InTransaction executes a function within a transaction
func (m *transactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// transaction stages full replacement chunk sets for the sources it touches
type transaction struct {
	mu     sync.Mutex
	store  *Store
	ctx    context.Context
	staged map[string][]*models.Chunk
	held   map[string]bool
	done   bool
}

func transactionFromContext(ctx context.Context) (*transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(*transaction)
	return tx, ok
}

// Commit publishes every staged source at once and releases the source locks
func (t *transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.store.apply(t.staged)
	t.release()
	t.store.logger.Debug("transaction committed", zap.Int("sources", len(t.staged)))
	return nil
}

// Rollback discards staged writes; rolling back a finished transaction is a no-op
func (t *transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true

	t.staged = nil
	t.release()
	t.store.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the transaction context
func (t *transaction) Context() context.Context {
	return t.ctx
}

func (t *transaction) release() {
	for sourceID := range t.held {
		t.store.unlockSource(sourceID)
	}
	t.held = nil
}

func (t *transaction) lock(ctx context.Context, sourceID string) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxDone
	}
	if t.held[sourceID] {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	// Acquire without holding t.mu so Rollback from another goroutine is not blocked
	if err := t.store.lockSource(ctx, sourceID); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		t.store.unlockSource(sourceID)
		return ErrTxDone
	}
	t.held[sourceID] = true
	return nil
}

// view returns the chunk set of a source as seen by this transaction
func (t *transaction) view(sourceID string) []*models.Chunk {
	if rows, ok := t.staged[sourceID]; ok {
		return rows
	}
	return t.store.committed(sourceID)
}

// stage runs fn against the transaction's view of a source and keeps the result
func (t *transaction) stage(sourceID string, fn func(rows []*models.Chunk) ([]*models.Chunk, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	rows, err := fn(t.view(sourceID))
	if err != nil {
		return err
	}
	t.staged[sourceID] = rows
	return nil
}

func (t *transaction) read(sourceID string) ([]*models.Chunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, ErrTxDone
	}
	return t.view(sourceID), nil
}
