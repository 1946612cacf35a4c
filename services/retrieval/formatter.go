package retrieval

import (
	"fmt"
	"strings"

	"github.com/tidexp/retrieval-engine/models"
)

// NoContextSentinel is returned instead of an empty context block
const NoContextSentinel = "No relevant context found."

// ContextSeparator marks the boundary between two context blocks
const ContextSeparator = "\n\n---\n\n"

// FormatContext renders results, in order, as numbered context blocks
func FormatContext(results []models.QueryResult) string {
	return formatBlocks(results, func(i int, _ models.QueryResult) string {
		return fmt.Sprintf("[Context %d]", i+1)
	})
}

// FormatContextWithAttribution is FormatContext with the source, chunk index
// and relevance of each block in its header
func FormatContextWithAttribution(results []models.QueryResult) string {
	return formatBlocks(results, func(i int, r models.QueryResult) string {
		return fmt.Sprintf("[Context %d | source=%s chunk=%d relevance=%.3f]", i+1, r.SourceID, r.ChunkIndex, r.Similarity)
	})
}

func formatBlocks(results []models.QueryResult, header func(int, models.QueryResult) string) string {
	if len(results) == 0 {
		return NoContextSentinel
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString(ContextSeparator)
		}
		sb.WriteString(header(i, r))
		sb.WriteString("\n")
		sb.WriteString(r.Content)
	}
	return sb.String()
}
