package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDims is the dimensionality of the hash embedder when none is configured
const DefaultHashDims = 384

// HashEmbedder is a deterministic feature-hashing embedder. Texts sharing
// words land close together, which is enough for development and tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash embedder with the given dimensionality
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDims
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed hashes the lower-cased words of text into a unit-length vector
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkText(text); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()

		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[sum%uint64(e.dimensions)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimensions returns the embedding dimensionality
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns the provider name
func (e *HashEmbedder) Name() string {
	return "hash"
}
