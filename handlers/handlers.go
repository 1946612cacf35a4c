package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/tidexp/retrieval-engine/utils"
)

// MaxRequestBodyBytes bounds JSON request bodies
const MaxRequestBodyBytes = 32 << 20

// errEmptyBody is returned by decodeJSON when the request has no body
var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a single JSON document into dst.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeDecodeError writes the response for a body that could not be decoded
func writeDecodeError(w http.ResponseWriter, err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return utils.WriteError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes", maxBytesErr.Limit), nil)
	}
	if errors.Is(err, errEmptyBody) {
		return utils.WriteBadRequest(w, "Request body is required", nil)
	}
	return utils.WriteBadRequest(w, "Invalid request body", map[string]interface{}{
		"reason": err.Error(),
	})
}

// sourceIDParam returns the unescaped {sourceID} URL parameter
func sourceIDParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "sourceID")
	sourceID, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("malformed source id: %w", err)
	}
	if err := utils.ValidateSourceID(sourceID); err != nil {
		return "", err
	}
	return sourceID, nil
}
