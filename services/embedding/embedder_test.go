package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidexp/retrieval-engine/config"
	"github.com/tidexp/retrieval-engine/internal/observability"
	"go.uber.org/zap"
)

// countingEmbedder returns a fixed vector and counts calls
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }
func (e *countingEmbedder) Name() string    { return "counting" }

func (e *countingEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "Go is great for retrieval")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "go IS great, for retrieval!")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "completely unrelated sentence here")
	require.NoError(t, err)

	assert.Len(t, a1, 64)
	assert.Equal(t, a1, a2, "case and punctuation do not matter")
	assert.NotEqual(t, a1, b)

	var norm float64
	for _, v := range a1 {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-12)

	_, err = e.Embed(ctx, " \n")
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.Equal(t, DefaultHashDims, NewHashEmbedder(0).Dimensions())
	assert.Equal(t, "hash", e.Name())
}

func TestHashEmbedder_PunctuationOnlyIsZeroVector(t *testing.T) {
	vec, err := NewHashEmbedder(8).Embed(context.Background(), "?!")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 8), vec)
}

func TestEmbedAll(t *testing.T) {
	e := NewHashEmbedder(16)

	vecs, err := EmbedAll(context.Background(), e, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = EmbedAll(context.Background(), e, []string{"one", ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Contains(t, err.Error(), "text 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EmbedAll(ctx, e, []string{"one"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachingEmbedder_HitsAndMisses(t *testing.T) {
	next := &countingEmbedder{}
	c := NewCachingEmbedder(next, 10, time.Minute)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "abc")
	require.NoError(t, err)
	v1[0] = 99

	v2, err := c.Embed(ctx, "abc")
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 1}, v2, "cached vectors are copies")
	assert.Equal(t, 1, next.count())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 1, stats.Size)
}

func TestCachingEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	next := &countingEmbedder{}
	c := NewCachingEmbedder(next, 2, time.Minute)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "a", "c", "a", "b"} {
		_, err := c.Embed(ctx, text)
		require.NoError(t, err)
	}

	// a, b, c miss; a hits twice; b was evicted by c
	assert.Equal(t, 4, next.count())
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCachingEmbedder_Expiry(t *testing.T) {
	next := &countingEmbedder{}
	c := NewCachingEmbedder(next, 10, time.Millisecond)
	ctx := context.Background()

	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, c.CleanupExpired())
	_, err = c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCachingEmbedder_DoesNotCacheFailures(t *testing.T) {
	next := &countingEmbedder{err: errors.New("provider down")}
	c := NewCachingEmbedder(next, 10, time.Minute)

	_, err := c.Embed(context.Background(), "a")
	require.Error(t, err)
	_, err = c.Embed(context.Background(), "a")
	require.Error(t, err)

	assert.Equal(t, 2, next.count())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCachingEmbedder_CleanupWorkerStops(t *testing.T) {
	c := NewCachingEmbedder(&countingEmbedder{}, 10, time.Millisecond)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		c.StartCleanupWorker(time.Millisecond, stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

func TestRateLimitedEmbedder(t *testing.T) {
	next := &countingEmbedder{}
	r := NewRateLimitedEmbedder(next, 1, 1)

	_, err := r.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Embed(ctx, "second")
	require.Error(t, err, "the second token is a second away")
	assert.Equal(t, 1, next.count())

	assert.Equal(t, 2, r.Dimensions())
	assert.Equal(t, "counting", r.Name())
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.EmbeddingConfig{
		Provider:   config.ProviderHash,
		Dimensions: 32,
		CacheSize:  10,
		CacheTTL:   time.Minute,
		RateLimit:  1000,
		RateBurst:  10,
	}
	metrics := observability.NewLogMetrics(zap.NewNop())

	e, err := NewFromConfig(context.Background(), cfg, metrics, zap.NewNop())
	require.NoError(t, err)

	cache, ok := e.(*CachingEmbedder)
	require.True(t, ok, "cache is the outermost layer")
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, "hash", e.Name())

	for i := 0; i < 3; i++ {
		_, err = e.Embed(context.Background(), "same text")
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), cache.Stats().Hits)
	assert.Equal(t, int64(1), metrics.Snapshot().Embeddings, "only cache misses reach the provider")
}

func TestNewFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmbeddingConfig
	}{
		{"unknown provider", config.EmbeddingConfig{Provider: "word2vec"}},
		{"openai without key", config.EmbeddingConfig{Provider: config.ProviderOpenAI}},
		{"gemini without key", config.EmbeddingConfig{Provider: config.ProviderGemini}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromConfig(context.Background(), tt.cfg, nil, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestNewFromConfig_BareProvider(t *testing.T) {
	e, err := NewFromConfig(context.Background(), config.EmbeddingConfig{Provider: config.ProviderHash}, nil, zap.NewNop())
	require.NoError(t, err)
	_, ok := e.(*HashEmbedder)
	assert.True(t, ok)
}
