package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAI model defaults
const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOpenAIDims  = 1536
)

var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig holds configuration for the OpenAI embedder
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // Optional, for Azure OpenAI or compatible APIs
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewOpenAIEmbedder creates a new OpenAI embedder
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		dims, ok := openAIModelDimensions[cfg.Model]
		if !ok {
			dims = DefaultOpenAIDims
		}
		cfg.Dimensions = dims
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		if !strings.HasSuffix(cfg.BaseURL, "/") {
			cfg.BaseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     logger,
	}, nil
}

// Embed generates an embedding for text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only text-embedding-3-* models accept a dimensions override
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		e.logger.Warn("openai embedding request failed",
			zap.String("model", e.model),
			zap.Error(err),
		)
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}

	vec := resp.Data[0].Embedding
	if err := checkDimensions("openai", e.dimensions, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions returns the embedding dimensionality
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns the provider name
func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

// Model returns the embedding model
func (e *OpenAIEmbedder) Model() string {
	return e.model
}
