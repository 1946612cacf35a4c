package models

// QueryResult is a ranked chunk attributed to its source.
// It is produced per search request and never persisted.
type QueryResult struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"relevance"`
	SourceID   string  `json:"sourceId"`
	ChunkIndex int     `json:"chunkIndex"`
}
