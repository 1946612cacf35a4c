package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tidexp/retrieval-engine/internal/observability"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/services"
	"go.uber.org/zap"
)

// Informational messages for searches that succeed without results
const (
	MessageNoSources       = "no sources provided"
	MessageNoIndexedChunks = "no indexed chunks found for the requested sources"
)

// QueryEmbedder turns query text into an embedding
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ChunkLoader loads the candidate chunks of a set of sources
type ChunkLoader interface {
	GetChunksForSources(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error)
}

// Options holds search defaults and limits
type Options struct {
	DefaultTopK      int
	DefaultThreshold float64
	MaxTopK          int
	Attribution      bool
}

// DefaultOptions returns the stock search defaults
func DefaultOptions() Options {
	return Options{
		DefaultTopK:      3,
		DefaultThreshold: 0.5,
		MaxTopK:          100,
	}
}

// SearchRequest represents a search over the chunks of a set of sources.
// A nil TopK or SimilarityThreshold selects the configured default.
type SearchRequest struct {
	Query               string
	SourceIDs           []string
	TopK                *int
	SimilarityThreshold *float64
}

// SearchResult holds the ranked chunks and their rendered context
type SearchResult struct {
	Results          []models.QueryResult
	FormattedContext string
	Message          string
}

// Service answers search requests. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	embedder QueryEmbedder
	loader   ChunkLoader
	opts     Options
	metrics  observability.Metrics
	logger   *zap.Logger
}

// NewService creates a new retrieval service
func NewService(embedder QueryEmbedder, loader ChunkLoader, opts Options, metrics observability.Metrics, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{
		embedder: embedder,
		loader:   loader,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Search embeds the query, ranks the chunks of the requested sources against
// it and formats the survivors as prompt context.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	stats := observability.SearchStats{Sources: len(req.SourceIDs)}

	result, err := s.search(ctx, req, &stats)

	stats.Duration = time.Since(start)
	stats.Err = err
	if result != nil {
		stats.Results = len(result.Results)
	}
	s.metrics.RecordSearch(ctx, stats)

	return result, err
}

func (s *Service) search(ctx context.Context, req SearchRequest, stats *observability.SearchStats) (*SearchResult, error) {
	topK, threshold, err := s.resolveParams(req)
	if err != nil {
		return nil, err
	}

	if len(req.SourceIDs) == 0 {
		return emptyResult(MessageNoSources), nil
	}
	sourceIDs := uniqueSourceIDs(req.SourceIDs)
	stats.Sources = len(sourceIDs)

	query, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		observability.FromContext(ctx, s.logger).Error("failed to embed query", zap.Error(err))
		return nil, services.WrapExternal("failed to embed query", err)
	}

	chunks, err := s.loader.GetChunksForSources(ctx, sourceIDs)
	if err != nil {
		if services.GetErrorType(err) == "" {
			err = services.WrapInternal("failed to load chunks", err)
		}
		return nil, err
	}
	stats.Candidates = len(chunks)

	if len(chunks) == 0 {
		return emptyResult(MessageNoIndexedChunks), nil
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].SourceID != chunks[j].SourceID {
			return chunks[i].SourceID < chunks[j].SourceID
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})

	candidates := make([]Candidate[*models.Chunk], len(chunks))
	for i, c := range chunks {
		candidates[i] = Candidate[*models.Chunk]{Embedding: c.Embedding, Payload: c}
	}

	ranked, err := Rank(query, candidates, topK, threshold)
	if err != nil {
		return nil, err
	}

	results := make([]models.QueryResult, len(ranked))
	for i, r := range ranked {
		results[i] = models.QueryResult{
			Content:    r.Payload.Content,
			Similarity: r.Similarity,
			SourceID:   r.Payload.SourceID,
			ChunkIndex: r.Payload.ChunkIndex,
		}
	}

	formatted := FormatContext(results)
	if s.opts.Attribution {
		formatted = FormatContextWithAttribution(results)
	}

	observability.FromContext(ctx, s.logger).Debug("search completed",
		zap.Int("sources", len(sourceIDs)),
		zap.Int("candidates", len(chunks)),
		zap.Int("results", len(results)),
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
	)

	return &SearchResult{
		Results:          results,
		FormattedContext: formatted,
	}, nil
}

func (s *Service) resolveParams(req SearchRequest) (int, float64, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, services.ErrEmptyQuery
	}
	if req.SourceIDs == nil {
		return 0, 0, services.ErrMissingSourceIDs
	}
	for i, id := range req.SourceIDs {
		if strings.TrimSpace(id) == "" {
			return 0, 0, services.NewValidationError("source id cannot be empty").WithDetail("index", i)
		}
	}

	topK := s.opts.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if s.opts.MaxTopK > 0 && topK > s.opts.MaxTopK {
		return 0, 0, services.NewValidationError("topK exceeds the maximum").
			WithDetail("topK", topK).
			WithDetail("max", s.opts.MaxTopK)
	}

	threshold := s.opts.DefaultThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}
	if math.IsNaN(threshold) {
		return 0, 0, services.NewValidationError("similarity threshold must be a number")
	}

	return topK, threshold, nil
}

func emptyResult(message string) *SearchResult {
	return &SearchResult{
		Results:          []models.QueryResult{},
		FormattedContext: NoContextSentinel,
		Message:          message,
	}
}

func uniqueSourceIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
