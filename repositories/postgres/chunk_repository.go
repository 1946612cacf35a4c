package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"github.com/tidexp/retrieval-engine/repositories/sqltx"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const chunkColumns = "id, source_id, chunk_index, content, embedding, token_count, metadata, created_at"

// ChunkRepository implements the repositories.ChunkRepository interface
type ChunkRepository struct {
	db     *DB
	tx     *sql.Tx
	logger *zap.Logger
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *DB, logger *zap.Logger) repositories.ChunkRepository {
	return &ChunkRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ChunkRepository) executor(ctx context.Context) sqltx.Executor {
	return sqltx.Resolve(ctx, r.db.DB, r.tx)
}

func (r *ChunkRepository) inTransaction(ctx context.Context) bool {
	if r.tx != nil {
		return true
	}
	_, ok := sqltx.FromContext(ctx)
	return ok
}

// LockSource takes a transaction-scoped advisory lock keyed by the source id
func (r *ChunkRepository) LockSource(ctx context.Context, sourceID string) error {
	if !r.inTransaction(ctx) {
		return nil
	}

	if _, err := r.executor(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sourceID); err != nil {
		return fmt.Errorf("failed to lock source %s: %w", sourceID, err)
	}
	return nil
}

// InsertBatch inserts chunks with one multi-row INSERT
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO chunks (" + chunkColumns + ") VALUES ")

	args := make([]interface{}, 0, len(chunks)*8)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args,
			c.ID,
			c.SourceID,
			c.ChunkIndex,
			c.Content,
			pq.Float64Array(c.Embedding),
			c.TokenCount,
			c.Metadata,
			c.CreatedAt,
		)
	}

	if _, err := r.executor(ctx).ExecContext(ctx, sb.String(), args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to insert chunks: %w", repositories.ErrDuplicateChunk)
		}
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	r.logger.Debug("chunks inserted",
		zap.String("source_id", chunks[0].SourceID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// GetBySourceID retrieves all chunks of a source ordered by chunk index
func (r *ChunkRepository) GetBySourceID(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE source_id = $1
		ORDER BY chunk_index ASC
	`

	return r.queryChunks(ctx, query, sourceID)
}

// GetBySourceIDs retrieves the chunks of several sources
func (r *ChunkRepository) GetBySourceIDs(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error) {
	if len(sourceIDs) == 0 {
		return []*models.Chunk{}, nil
	}

	query := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE source_id = ANY($1)
		ORDER BY source_id ASC, chunk_index ASC
	`

	return r.queryChunks(ctx, query, pq.Array(sourceIDs))
}

// DeleteBySourceID removes every chunk of a source
func (r *ChunkRepository) DeleteBySourceID(ctx context.Context, sourceID string) (int64, error) {
	result, err := r.executor(ctx).ExecContext(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("chunks deleted",
		zap.String("source_id", sourceID),
		zap.Int64("count", deleted),
	)
	return deleted, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *ChunkRepository) WithTx(tx repositories.Transaction) repositories.ChunkRepository {
	sqlTx, ok := sqltx.Unwrap(tx)
	if !ok {
		return r
	}
	return &ChunkRepository{
		db:     r.db,
		tx:     sqlTx,
		logger: r.logger,
	}
}

// queryChunks is a helper function to query multiple chunks
func (r *ChunkRepository) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*models.Chunk, error) {
	rows, err := r.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*models.Chunk{}
	for rows.Next() {
		chunk := &models.Chunk{}
		var embedding pq.Float64Array
		err := rows.Scan(
			&chunk.ID,
			&chunk.SourceID,
			&chunk.ChunkIndex,
			&chunk.Content,
			&embedding,
			&chunk.TokenCount,
			&chunk.Metadata,
			&chunk.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Embedding = []float64(embedding)
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}
