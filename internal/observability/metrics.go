package observability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordSearch(ctx context.Context, stats SearchStats)
	RecordStore(ctx context.Context, stats StoreStats)
	RecordEmbedding(ctx context.Context, provider string, duration time.Duration, err error)
}

// SearchStats describes one search request
type SearchStats struct {
	Sources    int
	Candidates int
	Results    int
	Duration   time.Duration
	Err        error
}

// StoreStats describes one chunk write or delete
type StoreStats struct {
	SourceID  string
	Operation string // store or delete
	Chunks    int
	Duration  time.Duration
	Err       error
}

// Snapshot is a point-in-time copy of the counters kept by LogMetrics
type Snapshot struct {
	Searches        int64 `json:"searches"`
	SearchErrors    int64 `json:"searchErrors"`
	ChunksStored    int64 `json:"chunksStored"`
	StoreErrors     int64 `json:"storeErrors"`
	Embeddings      int64 `json:"embeddings"`
	EmbeddingErrors int64 `json:"embeddingErrors"`
}

// LogMetrics writes every metric as a structured log entry and keeps running totals
type LogMetrics struct {
	logger *zap.Logger

	mu     sync.Mutex
	totals Snapshot
}

// NewLogMetrics creates a log-backed metrics recorder
func NewLogMetrics(logger *zap.Logger) *LogMetrics {
	return &LogMetrics{logger: logger.Named("metrics")}
}

// RecordSearch records a search request
func (m *LogMetrics) RecordSearch(ctx context.Context, stats SearchStats) {
	m.mu.Lock()
	m.totals.Searches++
	if stats.Err != nil {
		m.totals.SearchErrors++
	}
	m.mu.Unlock()

	FromContext(ctx, m.logger).Info("search",
		zap.Int("sources", stats.Sources),
		zap.Int("candidates", stats.Candidates),
		zap.Int("results", stats.Results),
		zap.Duration("duration", stats.Duration),
		zap.Bool("success", stats.Err == nil),
	)
}

// RecordStore records a chunk write or delete
func (m *LogMetrics) RecordStore(ctx context.Context, stats StoreStats) {
	m.mu.Lock()
	if stats.Err != nil {
		m.totals.StoreErrors++
	} else if stats.Operation == "store" {
		m.totals.ChunksStored += int64(stats.Chunks)
	}
	m.mu.Unlock()

	FromContext(ctx, m.logger).Info("chunk_store",
		zap.String("source_id", stats.SourceID),
		zap.String("operation", stats.Operation),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("duration", stats.Duration),
		zap.Bool("success", stats.Err == nil),
	)
}

// RecordEmbedding records one embedding provider call
func (m *LogMetrics) RecordEmbedding(ctx context.Context, provider string, duration time.Duration, err error) {
	m.mu.Lock()
	m.totals.Embeddings++
	if err != nil {
		m.totals.EmbeddingErrors++
	}
	m.mu.Unlock()

	FromContext(ctx, m.logger).Debug("embedding",
		zap.String("provider", provider),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil),
	)
}

// Snapshot returns the running totals
func (m *LogMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordSearch(context.Context, SearchStats)                     {}
func (NopMetrics) RecordStore(context.Context, StoreStats)                       {}
func (NopMetrics) RecordEmbedding(context.Context, string, time.Duration, error) {}
