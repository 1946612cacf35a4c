package chunks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidexp/retrieval-engine/internal/observability"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"github.com/tidexp/retrieval-engine/services"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of chunks written per INSERT when none is configured
const DefaultBatchSize = 100

// MaxBatchSize is the largest batch that fits one INSERT on every SQL backend.
// Each row binds 8 parameters and SQLite allows 32766 per statement.
const MaxBatchSize = 32766 / 8

// Service persists and loads source chunks
type Service struct {
	chunks    repositories.ChunkRepository
	txMgr     repositories.TransactionManager
	batchSize int
	metrics   observability.Metrics
	logger    *zap.Logger
}

// NewService creates a new chunk service
func NewService(
	chunks repositories.ChunkRepository,
	txMgr repositories.TransactionManager,
	batchSize int,
	metrics observability.Metrics,
	logger *zap.Logger,
) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{
		chunks:    chunks,
		txMgr:     txMgr,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// BatchSize returns the number of chunks written per batch
func (s *Service) BatchSize() int {
	return s.batchSize
}

// StoreChunks replaces the chunk set of a source with inputs.
// Chunk indexes follow input order. Either every chunk is written or none is.
func (s *Service) StoreChunks(ctx context.Context, sourceID string, inputs []models.ChunkInput) (int, error) {
	if err := validateChunkInputs(sourceID, inputs); err != nil {
		return 0, err
	}

	rows := make([]*models.Chunk, len(inputs))
	for i, in := range inputs {
		rows[i] = models.NewChunk(sourceID, i, in)
	}

	start := time.Now()
	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		repo := s.chunks.WithTx(tx)

		if err := repo.LockSource(ctx, sourceID); err != nil {
			return err
		}

		replaced, err := repo.DeleteBySourceID(ctx, sourceID)
		if err != nil {
			return err
		}
		if replaced > 0 {
			observability.FromContext(ctx, s.logger).Debug("replacing previous chunk set",
				zap.String("source_id", sourceID),
				zap.Int64("previous_chunks", replaced),
			)
		}

		for startIdx := 0; startIdx < len(rows); startIdx += s.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := startIdx + s.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := repo.InsertBatch(ctx, rows[startIdx:end]); err != nil {
				return fmt.Errorf("batch starting at chunk %d: %w", startIdx, err)
			}
		}
		return nil
	})

	s.metrics.RecordStore(ctx, observability.StoreStats{
		SourceID:  sourceID,
		Operation: "store",
		Chunks:    len(rows),
		Duration:  time.Since(start),
		Err:       err,
	})

	if err != nil {
		observability.FromContext(ctx, s.logger).Error("failed to store chunks",
			zap.String("source_id", sourceID),
			zap.Int("chunks", len(rows)),
			zap.Error(err),
		)
		return 0, storageError("failed to store chunks", err)
	}

	observability.FromContext(ctx, s.logger).Info("chunks stored",
		zap.String("source_id", sourceID),
		zap.Int("chunks", len(rows)),
		zap.Duration("duration", time.Since(start)),
	)
	return len(rows), nil
}

// GetChunks returns the chunks of a source ordered by chunk index
func (s *Service) GetChunks(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, services.ErrEmptySourceID
	}

	chunks, err := s.chunks.GetBySourceID(ctx, sourceID)
	if err != nil {
		return nil, storageError("failed to load chunks", err)
	}
	return chunks, nil
}

// GetChunksForSources returns the chunks of every listed source ordered by
// source id, then chunk index. Unknown sources contribute nothing.
func (s *Service) GetChunksForSources(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error) {
	if sourceIDs == nil {
		return nil, services.ErrMissingSourceIDs
	}

	ids := make([]string, 0, len(sourceIDs))
	seen := make(map[string]bool, len(sourceIDs))
	for i, id := range sourceIDs {
		if strings.TrimSpace(id) == "" {
			return nil, services.NewValidationError("source id cannot be empty").
				WithDetail("index", i)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []*models.Chunk{}, nil
	}

	chunks, err := s.chunks.GetBySourceIDs(ctx, ids)
	if err != nil {
		return nil, storageError("failed to load chunks", err)
	}
	return chunks, nil
}

// DeleteChunks removes every chunk of a source. Unknown sources delete nothing.
func (s *Service) DeleteChunks(ctx context.Context, sourceID string) (int64, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, services.ErrEmptySourceID
	}

	start := time.Now()
	deleted, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (int64, error) {
		repo := s.chunks.WithTx(tx)
		if err := repo.LockSource(ctx, sourceID); err != nil {
			return 0, err
		}
		return repo.DeleteBySourceID(ctx, sourceID)
	})

	s.metrics.RecordStore(ctx, observability.StoreStats{
		SourceID:  sourceID,
		Operation: "delete",
		Chunks:    int(deleted),
		Duration:  time.Since(start),
		Err:       err,
	})

	if err != nil {
		return 0, storageError("failed to delete chunks", err)
	}

	observability.FromContext(ctx, s.logger).Info("chunks deleted",
		zap.String("source_id", sourceID),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

func validateChunkInputs(sourceID string, inputs []models.ChunkInput) error {
	if strings.TrimSpace(sourceID) == "" {
		return services.ErrEmptySourceID
	}
	if len(inputs) == 0 {
		return services.ErrNoChunks
	}

	dims := len(inputs[0].Embedding)
	for i, in := range inputs {
		switch {
		case strings.TrimSpace(in.Content) == "":
			return services.ErrEmptyChunkContent.Copy().WithDetail("index", i)
		case len(in.Embedding) == 0:
			return services.ErrEmptyEmbedding.Copy().WithDetail("index", i)
		case in.TokenCount < 0:
			return services.NewValidationError("token count cannot be negative").WithDetail("index", i)
		case len(in.Embedding) != dims:
			return services.NewValidationError("chunk embeddings must share one dimensionality").
				WithDetail("index", i).
				WithDetail("expected", dims).
				WithDetail("actual", len(in.Embedding))
		}
	}
	return nil
}

// storageError converts repository failures into domain errors
func storageError(message string, err error) error {
	if errors.Is(err, repositories.ErrDuplicateChunk) {
		return services.WrapError(services.ErrorTypeConflict, message, err)
	}
	return services.WrapInternal(message, err)
}
