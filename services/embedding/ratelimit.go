package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder bounds the request rate to another embedder
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows perSecond requests with the given burst
func NewRateLimitedEmbedder(next Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token, then delegates. Cancelling ctx abandons the wait.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", r.next.Name(), err)
	}
	return r.next.Embed(ctx, text)
}

// Dimensions returns the wrapped embedder's dimensionality
func (r *RateLimitedEmbedder) Dimensions() int {
	return r.next.Dimensions()
}

// Name returns the wrapped embedder's name
func (r *RateLimitedEmbedder) Name() string {
	return r.next.Name()
}
