package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/propfin/loanagent/internal/models"
)

// fallbackErrorResponse is pre-marshaled at init so a marshal failure can
// still produce a well-formed error body.
var fallbackErrorResponse []byte

func init() {
	fallback := models.Error("Internal server error")
	data, err := json.Marshal(fallback)
	if err != nil {
		panic("api: failed to marshal fallback error response: " + err.Error())
	}
	fallbackErrorResponse = data
}

// writeJSONResponse marshals the response before writing headers so a
// marshal failure can still return a proper 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse: failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if _, writeErr := w.Write(fallbackErrorResponse); writeErr != nil {
			slog.Error("writeJSONResponse: failed to write fallback response", "error", writeErr)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("writeJSONResponse: failed to write response body", "error", err)
	}
}
