package handlers

import (
	"errors"
	"net/http"

	"github.com/tidexp/retrieval-engine/services"
	"github.com/tidexp/retrieval-engine/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	errors.As(err, &domainErr)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, publicMessage(domainErr, err))

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, publicMessage(domainErr, err), details)

	case services.IsDimensionMismatchError(err):
		writeErr = utils.WriteUnprocessableEntity(w, publicMessage(domainErr, err), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, publicMessage(domainErr, err))

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, publicMessage(domainErr, err))

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, publicMessage(domainErr, err), details)

	case services.IsExternalError(err):
		// The provider cause is logged, not returned
		logger.Error("embedding provider error", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, publicMessage(domainErr, err), nil)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	if domainErr != nil {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// publicMessage returns the domain message without the wrapped cause
func publicMessage(domainErr *services.DomainError, err error) string {
	if domainErr != nil {
		return domainErr.Message
	}
	return err.Error()
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
