package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/tidexp/retrieval-engine/config"
	"github.com/tidexp/retrieval-engine/internal/observability"
	"go.uber.org/zap"
)

// NewFromConfig builds the configured provider and layers rate limiting and
// caching over it. Cache hits never consume rate limit tokens.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig, metrics observability.Metrics, logger *zap.Logger) (Embedder, error) {
	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var e Embedder = provider
	if metrics != nil {
		e = &instrumentedEmbedder{next: e, metrics: metrics}
	}
	if cfg.RateLimit > 0 {
		e = NewRateLimitedEmbedder(e, cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.CacheSize > 0 {
		e = NewCachingEmbedder(e, cfg.CacheSize, cfg.CacheTTL)
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", e.Name()),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize),
		zap.Float64("rate_limit", cfg.RateLimit),
	)
	return e, nil
}

func newProvider(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}, logger.Named("openai"))
	case config.ProviderGemini:
		return NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:     cfg.Gemini.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}, logger.Named("gemini"))
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// instrumentedEmbedder records the latency and outcome of every provider call
type instrumentedEmbedder struct {
	next    Embedder
	metrics observability.Metrics
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := e.next.Embed(ctx, text)
	e.metrics.RecordEmbedding(ctx, e.next.Name(), time.Since(start), err)
	return vec, err
}

func (e *instrumentedEmbedder) Dimensions() int {
	return e.next.Dimensions()
}

func (e *instrumentedEmbedder) Name() string {
	return e.next.Name()
}
