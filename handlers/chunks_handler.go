package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tidexp/retrieval-engine/middleware"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/services/ingest"
	"github.com/tidexp/retrieval-engine/utils"
	"go.uber.org/zap"
)

// ChunkPayload is one precomputed chunk in a store request
type ChunkPayload struct {
	Content    string          `json:"content" validate:"required"`
	Embedding  []float64       `json:"embedding" validate:"required,min=1"`
	TokenCount int             `json:"tokenCount" validate:"gte=0"`
	Metadata   models.Metadata `json:"metadata,omitempty"`
}

// StoreChunksRequest is the body of PUT /api/v1/sources/{sourceID}/chunks
type StoreChunksRequest struct {
	Chunks []ChunkPayload `json:"chunks" validate:"required,min=1,dive"`
}

// StoreChunksResponse reports a completed store
type StoreChunksResponse struct {
	Success  bool   `json:"success"`
	SourceID string `json:"sourceId"`
	Stored   int    `json:"stored"`
}

// IngestRequest is the body of POST /api/v1/sources/{sourceID}/ingest
type IngestRequest struct {
	Text     string          `json:"text" validate:"required"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// IngestResponse reports a completed ingestion
type IngestResponse struct {
	Success    bool   `json:"success"`
	SourceID   string `json:"sourceId"`
	Chunks     int    `json:"chunks"`
	DurationMs int64  `json:"durationMs"`
}

// ListChunksResponse lists the chunks of a source in index order
type ListChunksResponse struct {
	Success  bool            `json:"success"`
	SourceID string          `json:"sourceId"`
	Chunks   []*models.Chunk `json:"chunks"`
}

// DeleteChunksResponse reports how many chunks were removed
type DeleteChunksResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

// ChunkService defines the chunk store operations used by the handler
type ChunkService interface {
	StoreChunks(ctx context.Context, sourceID string, inputs []models.ChunkInput) (int, error)
	GetChunks(ctx context.Context, sourceID string) ([]*models.Chunk, error)
	DeleteChunks(ctx context.Context, sourceID string) (int64, error)
}

// Ingester defines the ingestion pipeline used by the handler
type Ingester interface {
	IngestText(ctx context.Context, sourceID, text string, metadata models.Metadata) (*ingest.Result, error)
}

// ChunksHandler handles per-source chunk management
type ChunksHandler struct {
	chunks   ChunkService
	ingester Ingester
	logger   *zap.Logger
}

// NewChunksHandler creates a new ChunksHandler
func NewChunksHandler(chunks ChunkService, ingester Ingester, logger *zap.Logger) *ChunksHandler {
	return &ChunksHandler{
		chunks:   chunks,
		ingester: ingester,
		logger:   logger,
	}
}

// HandleStoreChunks handles PUT /api/v1/sources/{sourceID}/chunks
func (h *ChunksHandler) HandleStoreChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	sourceID, ok := h.sourceID(w, r)
	if !ok {
		return
	}

	var req StoreChunksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = writeDecodeError(w, err)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	inputs := make([]models.ChunkInput, len(req.Chunks))
	for i, c := range req.Chunks {
		inputs[i] = models.ChunkInput{
			Content:    c.Content,
			Embedding:  c.Embedding,
			TokenCount: c.TokenCount,
			Metadata:   c.Metadata,
		}
	}

	stored, err := h.chunks.StoreChunks(ctx, sourceID, inputs)
	if err != nil {
		h.logger.Warn("failed to store chunks",
			zap.String("request_id", requestID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("chunks stored",
		zap.String("request_id", requestID),
		zap.String("source_id", sourceID),
		zap.Int("chunks", stored))

	h.write(w, requestID, StoreChunksResponse{Success: true, SourceID: sourceID, Stored: stored})
}

// HandleIngest handles POST /api/v1/sources/{sourceID}/ingest
func (h *ChunksHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	sourceID, ok := h.sourceID(w, r)
	if !ok {
		return
	}

	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = writeDecodeError(w, err)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.ingester.IngestText(ctx, sourceID, req.Text, req.Metadata)
	if err != nil {
		h.logger.Warn("failed to ingest text",
			zap.String("request_id", requestID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.write(w, requestID, IngestResponse{
		Success:    true,
		SourceID:   result.SourceID,
		Chunks:     result.Chunks,
		DurationMs: result.Duration.Milliseconds(),
	})
}

// HandleListChunks handles GET /api/v1/sources/{sourceID}/chunks.
// Embeddings are omitted unless ?embeddings=true.
func (h *ChunksHandler) HandleListChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	sourceID, ok := h.sourceID(w, r)
	if !ok {
		return
	}

	withEmbeddings := false
	if raw := r.URL.Query().Get("embeddings"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "embeddings must be a boolean", nil)
			return
		}
		withEmbeddings = parsed
	}

	chunks, err := h.chunks.GetChunks(ctx, sourceID)
	if err != nil {
		h.logger.Warn("failed to load chunks",
			zap.String("request_id", requestID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if chunks == nil {
		chunks = []*models.Chunk{}
	}
	if !withEmbeddings {
		for _, c := range chunks {
			c.Embedding = nil
		}
	}

	h.write(w, requestID, ListChunksResponse{Success: true, SourceID: sourceID, Chunks: chunks})
}

// HandleDeleteChunks handles DELETE /api/v1/sources/{sourceID}/chunks
func (h *ChunksHandler) HandleDeleteChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	sourceID, ok := h.sourceID(w, r)
	if !ok {
		return
	}

	deleted, err := h.chunks.DeleteChunks(ctx, sourceID)
	if err != nil {
		h.logger.Warn("failed to delete chunks",
			zap.String("request_id", requestID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("chunks deleted",
		zap.String("request_id", requestID),
		zap.String("source_id", sourceID),
		zap.Int64("deleted", deleted))

	h.write(w, requestID, DeleteChunksResponse{Success: true, Deleted: deleted})
}

func (h *ChunksHandler) sourceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sourceID, err := sourceIDParam(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid source id", map[string]interface{}{
			"sourceId": err.Error(),
		})
		return "", false
	}
	return sourceID, true
}

func (h *ChunksHandler) write(w http.ResponseWriter, requestID string, body interface{}) {
	if err := utils.WriteJSON(w, http.StatusOK, body); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
