package ingest

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunker_ShortText(t *testing.T) {
	c := NewChunker(100, 10)
	assert.Equal(t, []string{"hello world"}, c.Split("  hello world \n"))
}

func TestChunker_BlankText(t *testing.T) {
	c := NewChunker(100, 10)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split(" \n\t "))
}

func TestChunker_PrefersParagraphThenWordBoundaries(t *testing.T) {
	c := NewChunker(20, 0)

	got := c.Split("first para\n\nsecond paragraph here")

	assert.Equal(t, []string{"first para", "second paragraph", "here"}, got)
}

func TestChunker_PrefersSentenceBoundary(t *testing.T) {
	c := NewChunker(20, 0)

	got := c.Split("Go is fast. It compiles quickly and runs well.")

	assert.Equal(t, "Go is fast.", got[0])
}

func TestChunker_Overlap(t *testing.T) {
	c := NewChunker(10, 4)

	got := c.Split("abcdefghijklmnop")

	assert.Equal(t, []string{"abcdefghij", "ghijklmnop"}, got)
}

func TestChunker_NormalizesSettings(t *testing.T) {
	assert.Equal(t, &Chunker{Size: DefaultChunkSize, Overlap: 0}, NewChunker(0, -1))
	assert.Equal(t, &Chunker{Size: 8, Overlap: 2}, NewChunker(8, 8))
}

func TestChunker_ChunksNeverExceedSize(t *testing.T) {
	words := []string{"retrieval", "ñandú", "向量", "chunk", "index.", "source!", "\n\n", "a"}
	rng := rand.New(rand.NewSource(5))

	for _, size := range []int{1, 2, 7, 16, 50} {
		c := NewChunker(size, size/3)
		var sb strings.Builder
		for i := 0; i < 200; i++ {
			sb.WriteString(words[rng.Intn(len(words))])
			sb.WriteString(" ")
		}

		chunks := c.Split(sb.String())
		assert.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk), size)
			assert.NotEmpty(t, strings.TrimSpace(chunk))
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateTokens("héllo"))
}
