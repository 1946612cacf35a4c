package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Gemini model defaults
const (
	DefaultGeminiModel = "gemini-embedding-001"
	DefaultGeminiDims  = 768
)

// GeminiConfig holds configuration for the Gemini embedder
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// embedContentAPI is the part of the genai client the embedder uses
type embedContentAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder generates embeddings with the Gemini API
type GeminiEmbedder struct {
	models     embedContentAPI
	model      string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGeminiEmbedder creates a new Gemini embedder
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to initialize client: %w", err)
	}

	return newGeminiEmbedder(client.Models, cfg, logger), nil
}

func newGeminiEmbedder(models embedContentAPI, cfg GeminiConfig, logger *zap.Logger) *GeminiEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultGeminiDims
	}
	return &GeminiEmbedder{
		models:     models,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// Embed generates an embedding for text
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outputDim := int32(e.dimensions)
	result, err := e.models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim},
	)
	if err != nil {
		e.logger.Warn("gemini embedding request failed",
			zap.String("model", e.model),
			zap.Error(err),
		)
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini: no embedding returned")
	}

	values := result.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	if err := checkDimensions("gemini", e.dimensions, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions returns the embedding dimensionality
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns the provider name
func (e *GeminiEmbedder) Name() string {
	return "gemini"
}
