package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a contiguous slice of a source's text paired with its embedding
type Chunk struct {
	ID         uuid.UUID `json:"id" db:"id"`
	SourceID   string    `json:"sourceId" db:"source_id"`     // Owning source, managed externally
	ChunkIndex int       `json:"chunkIndex" db:"chunk_index"` // Zero-based position within the source
	Content    string    `json:"content" db:"content"`
	Embedding  []float64 `json:"embedding,omitempty" db:"embedding"`
	TokenCount int       `json:"tokenCount" db:"token_count"` // Informational only
	Metadata   Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the Chunk model
func (Chunk) TableName() string {
	return "chunks"
}

// Ref returns the identity of the chunk within its source
func (c *Chunk) Ref() ChunkRef {
	return ChunkRef{SourceID: c.SourceID, ChunkIndex: c.ChunkIndex}
}

// ChunkInput is a single element of a storeChunks call.
// The chunk index is assigned from the element's position in the call.
type ChunkInput struct {
	Content    string    `json:"content"`
	Embedding  []float64 `json:"embedding"`
	TokenCount int       `json:"tokenCount"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

// ChunkRef identifies a chunk by its owning source and ordinal position
type ChunkRef struct {
	SourceID   string
	ChunkIndex int
}

// NewChunk creates a Chunk for sourceID at position index
func NewChunk(sourceID string, index int, in ChunkInput) *Chunk {
	embedding := make([]float64, len(in.Embedding))
	copy(embedding, in.Embedding)

	return &Chunk{
		ID:         uuid.New(),
		SourceID:   sourceID,
		ChunkIndex: index,
		Content:    in.Content,
		Embedding:  embedding,
		TokenCount: in.TokenCount,
		Metadata:   in.Metadata.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of the chunk
func (c *Chunk) Clone() *Chunk {
	out := *c
	out.Embedding = make([]float64, len(c.Embedding))
	copy(out.Embedding, c.Embedding)
	out.Metadata = c.Metadata.Clone()
	return &out
}
