package retrieval

import (
	"errors"
	"math"
	"sort"

	"github.com/tidexp/retrieval-engine/services"
)

// Candidate is an embedding to score against a query, carrying its payload
// through ranking so results never have to be matched back by content.
type Candidate[T any] struct {
	Embedding []float64
	Payload   T
}

// Ranked is a candidate that survived threshold filtering
type Ranked[T any] struct {
	Payload    T
	Similarity float64
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|), clamped to [-1, 1].
// A zero-magnitude vector scores 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, services.ErrDimensionMismatch.Copy().
			WithDetail("expected", len(a)).
			WithDetail("actual", len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case math.IsNaN(sim):
		return 0, nil
	case sim > 1:
		return 1, nil
	case sim < -1:
		return -1, nil
	}
	return sim, nil
}

// Rank scores every candidate against query, drops those strictly below
// minThreshold and returns at most topK ordered by similarity descending.
// Equal scores keep their input order. Any dimension mismatch fails the call.
func Rank[T any](query []float64, candidates []Candidate[T], topK int, minThreshold float64) ([]Ranked[T], error) {
	if topK <= 0 || len(candidates) == 0 {
		return []Ranked[T]{}, nil
	}

	scored := make([]Ranked[T], 0, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c.Embedding)
		if err != nil {
			var domainErr *services.DomainError
			if errors.As(err, &domainErr) {
				domainErr.WithDetail("candidate", i)
			}
			return nil, err
		}
		if sim < minThreshold {
			continue
		}
		scored = append(scored, Ranked[T]{Payload: c.Payload, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
