package observability

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// FromContext returns logger annotated with the request id carried by ctx, if any
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if ctx == nil {
		return logger
	}
	if requestID := chimw.GetReqID(ctx); requestID != "" {
		return logger.With(zap.String("request_id", requestID))
	}
	return logger
}
