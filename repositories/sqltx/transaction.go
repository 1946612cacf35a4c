// Package sqltx provides database/sql transaction management shared by the
// SQL chunk stores.
package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidexp/retrieval-engine/repositories"
	"go.uber.org/zap"
)

// transactionContextKey is the context key for storing transactions
type transactionContextKey struct{}

// Manager implements repositories.TransactionManager over a *sql.DB
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
	}
}

// Begin starts a new transaction. The returned transaction's context carries
// the transaction so executors resolved from it run inside it.
func (m *Manager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	m.logger.Debug("transaction started")

	tx := &Transaction{
		tx:     sqlTx,
		logger: m.logger,
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// InTransaction executes a function within a transaction
// Automatically commits if function succeeds, rolls back on error
func (m *Manager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
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
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	return tx.Commit()
}

// Transaction implements repositories.Transaction over a *sql.Tx
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		// Ignore error if transaction is already closed
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// FromContext retrieves a transaction from the context if available
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(*Transaction)
	return tx, ok
}

// Unwrap returns the *sql.Tx behind a repositories.Transaction, if any
func Unwrap(tx repositories.Transaction) (*sql.Tx, bool) {
	t, ok := tx.(*Transaction)
	if !ok || t == nil {
		return nil, false
	}
	return t.tx, true
}

// Executor is an interface that can execute queries (both *sql.DB and *sql.Tx)
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Resolve picks the executor for a query: an explicitly bound transaction
// first, then a transaction carried by ctx, then the database itself.
func Resolve(ctx context.Context, db *sql.DB, bound *sql.Tx) Executor {
	if bound != nil {
		return bound
	}
	if tx, ok := FromContext(ctx); ok {
		return tx.tx
	}
	return db
}
