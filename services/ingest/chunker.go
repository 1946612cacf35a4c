package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunking defaults, in runes
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping chunks of at most Size runes,
// preferring paragraph, then sentence, then word boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Non-positive sizes fall back to the
// defaults and an overlap that would stall progress is reduced.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunks of text in order. Blank text yields no chunks.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + c.Size
		if end >= n {
			end = n
		} else if b := breakPoint(runes, start+c.Size/2, end); b > start {
			end = b
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		for next < n && unicode.IsSpace(runes[next]) {
			next++
		}
		start = next
	}
	return chunks
}

// breakPoint returns the best cut position in runes[from:to], or -1
func breakPoint(runes []rune, from, to int) int {
	if from < 0 {
		from = 0
	}

	// Paragraph break
	for i := to - 1; i > from; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	// Sentence end followed by whitespace
	for i := to - 1; i > from; i-- {
		if unicode.IsSpace(runes[i]) && strings.ContainsRune(".!?", runes[i-1]) {
			return i + 1
		}
	}
	// Any whitespace
	for i := to - 1; i >= from; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return -1
}

// EstimateTokens approximates the token count of text at four runes per token
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
