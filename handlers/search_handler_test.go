package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories/memory"
	"github.com/tidexp/retrieval-engine/services"
	"github.com/tidexp/retrieval-engine/services/chunks"
	"github.com/tidexp/retrieval-engine/services/retrieval"
	"github.com/tidexp/retrieval-engine/utils"
	"go.uber.org/zap"
)

// MockSearchService is a mock implementation of SearchService
type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.SearchResult), args.Error(1)
}

// fixedEmbedder returns the same vector for every text
type fixedEmbedder []float64

func (e fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e, nil
}

func postSearch(t *testing.T, handler *SearchHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.HandleSearch(w, req)
	return w
}

func TestHandleSearch(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful search", func(t *testing.T) {
		mockService := new(MockSearchService)
		handler := NewSearchHandler(mockService, logger)

		mockService.On("Search", mock.Anything, mock.MatchedBy(func(req retrieval.SearchRequest) bool {
			return req.Query == "what is go" &&
				assert.ObjectsAreEqual([]string{"s1", "s2"}, req.SourceIDs) &&
				req.TopK != nil && *req.TopK == 2 &&
				req.SimilarityThreshold == nil
		})).Return(&retrieval.SearchResult{
			Results: []models.QueryResult{
				{Content: "Go is a language", Similarity: 0.9, SourceID: "s1", ChunkIndex: 0},
			},
			FormattedContext: "[Context 1]\nGo is a language",
		}, nil)

		w := postSearch(t, handler, `{"query":"what is go","sourceIds":["s1","s2"],"topK":2}`)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, true, response["success"])
		assert.Equal(t, "[Context 1]\nGo is a language", response["formattedContext"])
		assert.NotContains(t, response, "message")

		results := response["results"].([]interface{})
		require.Len(t, results, 1)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "Go is a language", first["content"])
		assert.Equal(t, 0.9, first["relevance"])
		assert.Equal(t, "s1", first["sourceId"])
		assert.Equal(t, float64(0), first["chunkIndex"])

		mockService.AssertExpectations(t)
	})

	t.Run("empty source set keeps the informational message", func(t *testing.T) {
		mockService := new(MockSearchService)
		handler := NewSearchHandler(mockService, logger)

		mockService.On("Search", mock.Anything, mock.MatchedBy(func(req retrieval.SearchRequest) bool {
			return req.SourceIDs != nil && len(req.SourceIDs) == 0
		})).Return(&retrieval.SearchResult{
			FormattedContext: retrieval.NoContextSentinel,
			Message:          retrieval.MessageNoSources,
		}, nil)

		w := postSearch(t, handler, `{"query":"anything","sourceIds":[]}`)

		assert.Equal(t, http.StatusOK, w.Code)

		var response SearchResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.Success)
		assert.NotNil(t, response.Results)
		assert.Empty(t, response.Results)
		assert.Equal(t, retrieval.NoContextSentinel, response.FormattedContext)
		assert.Equal(t, retrieval.MessageNoSources, response.Message)
	})

	validationCases := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing query", `{"sourceIds":["s1"]}`, "query"},
		{"missing sourceIds", `{"query":"q"}`, "sourceIds"},
		{"null sourceIds", `{"query":"q","sourceIds":null}`, "sourceIds"},
		{"blank source id", `{"query":"q","sourceIds":["s1"," "]}`, "sourceIds[1]"},
		{"negative topK", `{"query":"q","sourceIds":["s1"],"topK":-1}`, "topK"},
		{"threshold too large", `{"query":"q","sourceIds":["s1"],"similarityThreshold":1.5}`, "similarityThreshold"},
	}

	for _, tt := range validationCases {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockSearchService)
			handler := NewSearchHandler(mockService, logger)

			w := postSearch(t, handler, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "bad_request", response.Error)
			assert.Contains(t, response.Details, tt.wantField)
			mockService.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		})
	}

	malformedCases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"query":`},
		{"empty body", ``},
		{"wrong type", `{"query":"q","sourceIds":"s1"}`},
		{"unknown field", `{"query":"q","sourceIds":["s1"],"top_k":2}`},
		{"trailing document", `{"query":"q","sourceIds":["s1"]}{}`},
	}

	for _, tt := range malformedCases {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockSearchService)
			handler := NewSearchHandler(mockService, logger)

			w := postSearch(t, handler, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockService.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		})
	}

	t.Run("oversized body returns 413", func(t *testing.T) {
		mockService := new(MockSearchService)
		handler := NewSearchHandler(mockService, logger)

		body := `{"query":"` + strings.Repeat("a", MaxRequestBodyBytes) + `","sourceIds":[]}`
		w := postSearch(t, handler, body)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	serviceErrors := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"embedding failure", services.WrapExternal("failed to embed query", errors.New("timeout")), http.StatusBadGateway},
		{"storage failure", services.WrapInternal("failed to load chunks", errors.New("db down")), http.StatusInternalServerError},
		{"dimension mismatch", services.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{"service validation", services.ErrEmptyQuery, http.StatusBadRequest},
	}

	for _, tt := range serviceErrors {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockSearchService)
			handler := NewSearchHandler(mockService, logger)
			mockService.On("Search", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := postSearch(t, handler, `{"query":"q","sourceIds":["s1"]}`)

			assert.Equal(t, tt.wantStatus, w.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.NotEmpty(t, response["error"])
			assert.NotContains(t, response, "success")
		})
	}
}

func TestHandleSearch_WithStore(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	store := memory.NewStore(logger)
	chunkService := chunks.NewService(store.Chunks(), store.TransactionManager(), 0, nil, logger)
	_, err := chunkService.StoreChunks(ctx, "s1", []models.ChunkInput{
		{Content: "exact", Embedding: []float64{1, 0}, TokenCount: 1},
		{Content: "orthogonal", Embedding: []float64{0, 1}, TokenCount: 1},
		{Content: "close", Embedding: []float64{0.9, 0.1}, TokenCount: 1},
	})
	require.NoError(t, err)

	searchService := retrieval.NewService(fixedEmbedder{1, 0}, chunkService, retrieval.DefaultOptions(), nil, logger)
	handler := NewSearchHandler(searchService, logger)

	body, err := json.Marshal(map[string]interface{}{
		"query":               "anything",
		"sourceIds":           []string{"s1"},
		"topK":                2,
		"similarityThreshold": 0.5,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.HandleSearch(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Results, 2)
	assert.Equal(t, "exact", response.Results[0].Content)
	assert.InDelta(t, 1.0, response.Results[0].Similarity, 1e-9)
	assert.Equal(t, "close", response.Results[1].Content)
	assert.Equal(t, 2, response.Results[1].ChunkIndex)
	assert.InDelta(t, 0.9939, response.Results[1].Similarity, 1e-3)
	assert.Equal(t, "[Context 1]\nexact\n\n---\n\n[Context 2]\nclose", response.FormattedContext)
}

func TestHandleSearch_TopKCeilingFollowsServiceOptions(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	store := memory.NewStore(logger)
	chunkService := chunks.NewService(store.Chunks(), store.TransactionManager(), 0, nil, logger)
	_, err := chunkService.StoreChunks(ctx, "s1", []models.ChunkInput{
		{Content: "exact", Embedding: []float64{1, 0}, TokenCount: 1},
	})
	require.NoError(t, err)

	body := `{"query":"q","sourceIds":["s1"],"topK":250}`

	t.Run("raised maximum accepts large topK", func(t *testing.T) {
		opts := retrieval.DefaultOptions()
		opts.MaxTopK = 500
		handler := NewSearchHandler(retrieval.NewService(fixedEmbedder{1, 0}, chunkService, opts, nil, logger), logger)

		w := postSearch(t, handler, body)

		require.Equal(t, http.StatusOK, w.Code)
		var response SearchResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Len(t, response.Results, 1)
	})

	t.Run("default maximum rejects large topK", func(t *testing.T) {
		handler := NewSearchHandler(retrieval.NewService(fixedEmbedder{1, 0}, chunkService, retrieval.DefaultOptions(), nil, logger), logger)

		w := postSearch(t, handler, body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, float64(100), response.Details["max"])
	})
}
