package handlers

import (
	"context"
	"net/http"

	"github.com/tidexp/retrieval-engine/middleware"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/services/retrieval"
	"github.com/tidexp/retrieval-engine/utils"
	"go.uber.org/zap"
)

// SearchRequest is the body of POST /api/v1/search.
// sourceIds must be present; an empty array is a valid "nothing to search" request.
type SearchRequest struct {
	Query               string   `json:"query" validate:"required"`
	SourceIDs           []string `json:"sourceIds" validate:"required,dive,sourceid"`
	TopK                *int     `json:"topK,omitempty" validate:"omitempty,gte=0"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty" validate:"omitempty,gte=-1,lte=1"`
}

// SearchResponse is the success body of POST /api/v1/search
type SearchResponse struct {
	Success          bool                 `json:"success"`
	Results          []models.QueryResult `json:"results"`
	FormattedContext string               `json:"formattedContext"`
	Message          string               `json:"message,omitempty"`
}

// SearchService defines the retrieval operations used by the handler
type SearchService interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error)
}

// SearchHandler handles retrieval requests
type SearchHandler struct {
	service SearchService
	logger  *zap.Logger
}

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(service SearchService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		service: service,
		logger:  logger,
	}
}

// HandleSearch handles POST /api/v1/search
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req SearchRequest
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

	result, err := h.service.Search(ctx, retrieval.SearchRequest{
		Query:               req.Query,
		SourceIDs:           req.SourceIDs,
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		h.logger.Warn("search failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	results := result.Results
	if results == nil {
		results = []models.QueryResult{}
	}

	h.logger.Debug("search completed",
		zap.String("request_id", requestID),
		zap.Int("sources", len(req.SourceIDs)),
		zap.Int("results", len(results)))

	if err := utils.WriteJSON(w, http.StatusOK, SearchResponse{
		Success:          true,
		Results:          results,
		FormattedContext: result.FormattedContext,
		Message:          result.Message,
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
