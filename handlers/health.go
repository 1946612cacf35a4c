package handlers

import (
	"net/http"

	"github.com/tidexp/retrieval-engine/utils"
)

// Version is the service version reported by /api/v1/status
var Version = "0.1.0"

// StatusInfo describes the running deployment
type StatusInfo struct {
	Version             string `json:"version"`
	Environment         string `json:"environment"`
	EmbeddingProvider   string `json:"embeddingProvider"`
	EmbeddingModel      string `json:"embeddingModel,omitempty"`
	EmbeddingDimensions int    `json:"embeddingDimensions"`
	StoreDriver         string `json:"storeDriver"`
}

// StatusHandler returns application status information
func StatusHandler(info StatusInfo) http.HandlerFunc {
	if info.Version == "" {
		info.Version = Version
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, info)
	}
}
