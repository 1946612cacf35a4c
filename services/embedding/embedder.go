// Package embedding turns text into embedding vectors through pluggable
// providers, with optional rate limiting and caching layered on top.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when asked to embed blank text
var ErrEmptyText = errors.New("text cannot be empty")

// Embedder produces fixed-dimensionality embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
	Name() string
}

// EmbedAll embeds texts in order, stopping at the first failure
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

func checkDimensions(provider string, want int, got []float64) error {
	if len(got) == 0 {
		return fmt.Errorf("%s: no embedding returned", provider)
	}
	if want > 0 && len(got) != want {
		return fmt.Errorf("%s: embedding dimension mismatch: expected %d, got %d", provider, want, len(got))
	}
	return nil
}
