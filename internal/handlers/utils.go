package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"speelycaptor/internal/logging"
	"speelycaptor/internal/staging"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes a status response as JSON with the given status code.
func writeJSONStatus(w http.ResponseWriter, status string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"status": status})
}

// writeStoreError maps a staging error to a response. Unknown or expired
// keys are the client's problem; anything else is ours.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, staging.ErrNotFound) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}
	logging.Error("%s: %v", op, err)
	writeJSONError(w, "storage error", http.StatusInternalServerError)
}
