package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/tidexp/retrieval-engine/internal/observability"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/services"
	"github.com/tidexp/retrieval-engine/services/embedding"
	"go.uber.org/zap"
)

// ChunkWriter persists the chunk set of a source
type ChunkWriter interface {
	StoreChunks(ctx context.Context, sourceID string, inputs []models.ChunkInput) (int, error)
}

// Result describes a completed ingestion
type Result struct {
	SourceID string
	Chunks   int
	Duration time.Duration
}

// Service turns raw source text into stored, embedded chunks
type Service struct {
	chunker  *Chunker
	embedder embedding.Embedder
	writer   ChunkWriter
	logger   *zap.Logger
}

// NewService creates a new ingestion service
func NewService(chunker *Chunker, embedder embedding.Embedder, writer ChunkWriter, logger *zap.Logger) *Service {
	return &Service{
		chunker:  chunker,
		embedder: embedder,
		writer:   writer,
		logger:   logger,
	}
}

// IngestText chunks text, embeds every chunk and replaces the source's chunk
// set with the result. Nothing is written unless every chunk was embedded.
func (s *Service) IngestText(ctx context.Context, sourceID, text string, metadata models.Metadata) (*Result, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, services.ErrEmptySourceID
	}

	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, services.ErrEmptyText
	}

	start := time.Now()
	vectors, err := embedding.EmbedAll(ctx, s.embedder, pieces)
	if err != nil {
		observability.FromContext(ctx, s.logger).Error("failed to embed chunks",
			zap.String("source_id", sourceID),
			zap.Int("chunks", len(pieces)),
			zap.Error(err),
		)
		return nil, services.WrapExternal("failed to embed chunks", err)
	}

	inputs := make([]models.ChunkInput, len(pieces))
	for i, piece := range pieces {
		inputs[i] = models.ChunkInput{
			Content:    piece,
			Embedding:  vectors[i],
			TokenCount: EstimateTokens(piece),
			Metadata:   metadata.Clone(),
		}
	}

	stored, err := s.writer.StoreChunks(ctx, sourceID, inputs)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SourceID: sourceID,
		Chunks:   stored,
		Duration: time.Since(start),
	}
	observability.FromContext(ctx, s.logger).Info("source ingested",
		zap.String("source_id", sourceID),
		zap.Int("chunks", stored),
		zap.String("embedder", s.embedder.Name()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
