package postgres

import (
	"context"
	"database/sql"

	"github.com/tidexp/retrieval-engine/config"
	"github.com/tidexp/retrieval-engine/repositories"
	"github.com/tidexp/retrieval-engine/repositories/sqltx"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the PostgreSQL repositories.
// It implements repositories.Store.
type RepositoryFactory struct {
	db     *DB
	chunks repositories.ChunkRepository
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewRepositoryFactory opens the connection pool and creates the repositories
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newFactory(db, logger), nil
}

// NewRepositoryFactoryFromDB wraps an already opened *sql.DB
func NewRepositoryFactoryFromDB(sqlDB *sql.DB, logger *zap.Logger) *RepositoryFactory {
	return newFactory(&DB{DB: sqlDB, logger: logger}, logger)
}

func newFactory(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{
		db:     db,
		chunks: NewChunkRepository(db, logger),
		txMgr:  sqltx.NewManager(db.DB, logger),
		logger: logger,
	}
}

// InitSchema initializes the database schema
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// Chunks returns the chunk repository
func (f *RepositoryFactory) Chunks() repositories.ChunkRepository {
	return f.chunks
}

// TransactionManager returns the transaction manager
func (f *RepositoryFactory) TransactionManager() repositories.TransactionManager {
	return f.txMgr
}

// HealthCheck pings the database
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.db.HealthCheck(ctx)
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
