package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"github.com/tidexp/retrieval-engine/repositories/sqltx"
	"go.uber.org/zap"
)

const chunkColumns = "id, source_id, chunk_index, content, embedding, token_count, metadata, created_at"

// chunkRepository implements repositories.ChunkRepository
type chunkRepository struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *zap.Logger
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *sql.DB, logger *zap.Logger) repositories.ChunkRepository {
	return &chunkRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.ChunkRepository = (*chunkRepository)(nil)

func (r *chunkRepository) executor(ctx context.Context) sqltx.Executor {
	return sqltx.Resolve(ctx, r.db, r.tx)
}

// LockSource is a no-op: the single connection already serializes writers
func (r *chunkRepository) LockSource(ctx context.Context, sourceID string) error {
	return ctx.Err()
}

// InsertBatch inserts chunks with one multi-row INSERT
func (r *chunkRepository) InsertBatch(ctx context.Context, chunks []*models.Chunk) error {
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
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			c.ID.String(),
			c.SourceID,
			c.ChunkIndex,
			c.Content,
			float64SliceToBytes(c.Embedding),
			c.TokenCount,
			c.Metadata,
			c.CreatedAt,
		)
	}

	if _, err := r.executor(ctx).ExecContext(ctx, sb.String(), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting chunks: %w", repositories.ErrDuplicateChunk)
		}
		return fmt.Errorf("inserting chunks: %w", err)
	}

	r.logger.Debug("chunks inserted",
		zap.String("source_id", chunks[0].SourceID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// GetBySourceID retrieves all chunks of a source ordered by chunk index
func (r *chunkRepository) GetBySourceID(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	return r.queryChunks(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE source_id = ?
		ORDER BY chunk_index
	`, sourceID)
}

// GetBySourceIDs retrieves the chunks of several sources
func (r *chunkRepository) GetBySourceIDs(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error) {
	if len(sourceIDs) == 0 {
		return []*models.Chunk{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sourceIDs)), ", ")
	args := make([]interface{}, len(sourceIDs))
	for i, id := range sourceIDs {
		args[i] = id
	}

	return r.queryChunks(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE source_id IN (`+placeholders+`)
		ORDER BY source_id, chunk_index
	`, args...)
}

// DeleteBySourceID removes every chunk of a source
func (r *chunkRepository) DeleteBySourceID(ctx context.Context, sourceID string) (int64, error) {
	result, err := r.executor(ctx).ExecContext(ctx, "DELETE FROM chunks WHERE source_id = ?", sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return deleted, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *chunkRepository) WithTx(tx repositories.Transaction) repositories.ChunkRepository {
	sqlTx, ok := sqltx.Unwrap(tx)
	if !ok {
		return r
	}
	return &chunkRepository{
		db:     r.db,
		tx:     sqlTx,
		logger: r.logger,
	}
}

func (r *chunkRepository) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*models.Chunk, error) {
	rows, err := r.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*models.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// scanChunk scans a chunk from *sql.Rows.
func scanChunk(rows *sql.Rows) (*models.Chunk, error) {
	var chunk models.Chunk
	var embeddingBlob []byte
	var createdAt sql.NullTime

	if err := rows.Scan(&chunk.ID, &chunk.SourceID, &chunk.ChunkIndex, &chunk.Content,
		&embeddingBlob, &chunk.TokenCount, &chunk.Metadata, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	embedding, err := bytesToFloat64Slice(embeddingBlob)
	if err != nil {
		return nil, fmt.Errorf("decoding embedding of %s/%d: %w", chunk.SourceID, chunk.ChunkIndex, err)
	}
	chunk.Embedding = embedding

	if createdAt.Valid {
		chunk.CreatedAt = createdAt.Time
	}
	return &chunk, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// float64SliceToBytes encodes a []float64 as little-endian IEEE-754 bits.
func float64SliceToBytes(floats []float64) []byte {
	buf := make([]byte, len(floats)*8)
	for i, f := range floats {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// bytesToFloat64Slice converts a byte slice back to []float64.
func bytesToFloat64Slice(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 8", len(data))
	}
	floats := make([]float64, len(data)/8)
	for i := range floats {
		floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return floats, nil
}
