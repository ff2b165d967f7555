package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/logging"
	"speelycaptor/internal/transcoder"
)

// ConvertResponse points at the converted output.
type ConvertResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

const convertPattern = ".convert-*"

// Convert runs ffmpeg over a staged file and stages the result under a new
// key. The args query parameter is split on whitespace and handed to ffmpeg
// as separate arguments.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := query.Get("key")
	if key == "" || !query.Has("args") {
		writeJSONError(w, "key and args are required", http.StatusBadRequest)
		return
	}
	args := query.Get("args")

	input, err := h.store.Resolve(key)
	if err != nil {
		writeStoreError(w, "resolve conversion input", err)
		return
	}

	if _, err := filesystem.StatWithRetry(input, h.config.Retry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSONError(w, "no data stored for key", http.StatusNotFound)
			return
		}
		logging.Error("Failed to stat conversion input %s: %v", shortKey(key), err)
		writeJSONError(w, "storage error", http.StatusInternalServerError)
		return
	}

	tmp, err := h.scratch(convertPattern)
	if err != nil {
		logging.Error("Failed to create conversion output for %s: %v", shortKey(key), err)
		writeJSONError(w, "storage error", http.StatusInternalServerError)
		return
	}
	defer removeTemp(tmp)

	if err := h.transcoder.Convert(r.Context(), input, tmp, args); err != nil {
		h.writeConvertError(w, key, err)
		return
	}

	// The output slot is only allocated once ffmpeg is done, so a slow
	// conversion cannot eat into the lifetime the client gets to pull it.
	output, err := h.store.Allocate(r.Context(), h.config.UploadTTL)
	if err != nil {
		writeStoreError(w, "allocate conversion output", err)
		return
	}
	if err := h.store.Commit(r.Context(), output.Key, tmp); err != nil {
		h.release(r.Context(), output.Key)
		writeStoreError(w, "commit conversion output", err)
		return
	}

	logging.Debug("Converted %s into %s", shortKey(key), shortKey(output.Key))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, ConvertResponse{
		URL: h.pullURL(output.Key),
		Key: output.Key,
	})
}

func (h *Handlers) writeConvertError(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, transcoder.ErrUnsafeArgs) {
		logging.Info("Refused conversion of %s: %v", shortKey(key), err)
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var convErr *transcoder.ConversionError
	if errors.As(err, &convErr) {
		logging.Warn("Conversion of %s failed: %v", shortKey(key), err)
		writeJSONError(w, fmt.Sprintf("conversion failed (exit code %d)", convErr.ExitCode), http.StatusInternalServerError)
		return
	}
	logging.Error("Conversion of %s failed: %v", shortKey(key), err)
	writeJSONError(w, "conversion failed", http.StatusInternalServerError)
}
