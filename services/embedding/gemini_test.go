package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// MockModels is a mock implementation of embedContentAPI
type MockModels struct {
	mock.Mock
}

func (m *MockModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	args := m.Called(ctx, model, contents, config)
	if v := args.Get(0); v != nil {
		return v.(*genai.EmbedContentResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestGeminiEmbedder_Embed(t *testing.T) {
	models := new(MockModels)
	models.On("EmbedContent", mock.Anything, "gemini-embedding-001", mock.Anything, mock.MatchedBy(func(cfg *genai.EmbedContentConfig) bool {
		return cfg.OutputDimensionality != nil && *cfg.OutputDimensionality == 3
	})).Return(&genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.5, -0.25, 1}}},
	}, nil)

	e := newGeminiEmbedder(models, GeminiConfig{Dimensions: 3}, zap.NewNop())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -0.25, 1}, vec)
	assert.Equal(t, "gemini", e.Name())
	assert.Equal(t, 3, e.Dimensions())

	contents := models.Calls[0].Arguments.Get(2).([]*genai.Content)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello", contents[0].Parts[0].Text)
	models.AssertExpectations(t)
}

func TestGeminiEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.EmbedContentResponse
		err  error
	}{
		{"api error", nil, errors.New("quota exceeded")},
		{"no embeddings", &genai.EmbedContentResponse{}, nil},
		{"wrong dimensions", &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2}}},
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := new(MockModels)
			models.On("EmbedContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			e := newGeminiEmbedder(models, GeminiConfig{Dimensions: 3}, zap.NewNop())
			vec, err := e.Embed(context.Background(), "hello")
			assert.Error(t, err)
			assert.Nil(t, vec)
		})
	}
}

func TestGeminiEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), GeminiConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestGeminiEmbedder_EmptyText(t *testing.T) {
	models := new(MockModels)
	e := newGeminiEmbedder(models, GeminiConfig{}, zap.NewNop())

	_, err := e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, DefaultGeminiDims, e.Dimensions())
	models.AssertNotCalled(t, "EmbedContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
