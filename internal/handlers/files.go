package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/keygen"
	"speelycaptor/internal/logging"
	"speelycaptor/internal/metrics"
	"speelycaptor/internal/streaming"
	"speelycaptor/internal/transcoder"

	"github.com/gorilla/mux"
)

const uploadPattern = ".upload-*"

var errNoFilePart = errors.New("multipart upload has no file part")

// InitResponse is returned by GET /init.
type InitResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

// KeyResponse acknowledges a stored upload.
type KeyResponse struct {
	Key string `json:"key"`
}

// Init allocates an upload slot and tells the client where to push it.
func (h *Handlers) Init(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Allocate(r.Context(), h.config.UploadTTL)
	if err != nil {
		writeStoreError(w, "allocate upload slot", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, InitResponse{
		UploadURL: h.pushURL(entry.Key),
		Key:       entry.Key,
	})
}

// Push stores the request body under an allocated key. The response is only
// sent once the data is synced to disk and, when enabled, has passed
// ffprobe validation.
func (h *Handlers) Push(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !keygen.Valid(key) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}

	if _, err := h.store.Resolve(key); err != nil {
		writeStoreError(w, "resolve upload slot", err)
		return
	}

	if h.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	}

	src, err := uploadBody(r)
	if err != nil {
		h.writeUploadError(w, key, err)
		return
	}

	tmp, n, err := h.receive(src)
	if err != nil {
		h.writeUploadError(w, key, err)
		return
	}
	defer removeTemp(tmp)

	if h.config.ValidateUploads {
		if err := h.transcoder.Validate(r.Context(), h.store.Root(), tmp); err != nil {
			if errors.Is(err, transcoder.ErrInvalidMedia) {
				logging.Info("Rejected upload for %s: %v", shortKey(key), err)
				h.release(r.Context(), key)
				writeJSONError(w, "invalid media", http.StatusUnprocessableEntity)
				return
			}
			logging.Error("Validation of %s failed: %v", shortKey(key), err)
			writeJSONError(w, "validation failed", http.StatusInternalServerError)
			return
		}
	}

	// The slot may have been swept or released while the body was arriving.
	if err := h.store.Commit(r.Context(), key, tmp); err != nil {
		writeStoreError(w, "commit upload", err)
		return
	}

	metrics.StagingUploadBytes.Add(float64(n))
	logging.Debug("Stored %d bytes for %s", n, shortKey(key))

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, KeyResponse{Key: key})
}

// Pull streams the bytes stored under a key.
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !keygen.Valid(key) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}

	path, err := h.store.Resolve(key)
	if err != nil {
		writeStoreError(w, "resolve download", err)
		return
	}

	f, err := filesystem.OpenWithRetry(path, h.config.Retry)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSONError(w, "no data stored for key", http.StatusNotFound)
			return
		}
		logging.Error("Failed to open %s: %v", shortKey(key), err)
		writeJSONError(w, "storage error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logging.Error("Failed to stat %s: %v", shortKey(key), err)
		writeJSONError(w, "storage error", http.StatusInternalServerError)
		return
	}

	n, err := streaming.Stream(r.Context(), w, f, info.Size(), h.config.Stream)
	if err != nil {
		if streaming.IsClientError(err) {
			logging.Debug("Download of %s stopped after %d bytes: %v", shortKey(key), n, err)
		} else {
			logging.Warn("Download of %s failed after %d bytes: %v", shortKey(key), n, err)
		}
	}
}

// Release frees a slot before its lifetime runs out. Unknown keys succeed.
func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if keygen.Valid(key) {
		if err := h.store.Release(r.Context(), key); err != nil {
			writeStoreError(w, "release slot", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) release(ctx context.Context, key string) {
	if err := h.store.Release(context.WithoutCancel(ctx), key); err != nil {
		logging.Error("Failed to release %s: %v", shortKey(key), err)
	}
}

// scratch creates an empty file in the staging root for output that is
// committed to a key later.
func (h *Handlers) scratch(pattern string) (string, error) {
	f, err := os.CreateTemp(h.store.Root(), pattern)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// removeTemp deletes a temp file unless a commit already moved it.
func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Failed to remove temp file %s: %v", path, err)
	}
}

// receive copies src into a temp file in the staging root and syncs it.
func (h *Handlers) receive(src io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(h.store.Root(), uploadPattern)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	body := &bodyReader{r: src}
	n, err := io.Copy(f, body)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		if body.err != nil {
			return "", n, body.err
		}
		return "", n, fmt.Errorf("write upload file: %w", err)
	}
	return f.Name(), n, nil
}

func (h *Handlers) writeUploadError(w http.ResponseWriter, key string, err error) {
	var tooLarge *http.MaxBytesError
	var readErr *uploadReadError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
	case errors.Is(err, errNoFilePart):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &readErr):
		logging.Debug("Upload for %s aborted: %v", shortKey(key), err)
		writeJSONError(w, "upload interrupted", http.StatusBadRequest)
	default:
		logging.Error("Upload for %s failed: %v", shortKey(key), err)
		writeJSONError(w, "storage error", http.StatusInternalServerError)
	}
}

// uploadBody returns the raw body, or the first file part of a multipart
// form.
func uploadBody(r *http.Request) (io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &uploadReadError{err: err}
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, &uploadReadError{err: err}
		}
		if part.FileName() != "" {
			return part, nil
		}
		if err := drain(part); err != nil {
			return nil, &uploadReadError{err: err}
		}
	}
}

func drain(part *multipart.Part) error {
	_, err := io.Copy(io.Discard, part)
	return err
}

// uploadReadError marks a failure reading the request body, as opposed to
// writing it to disk.
type uploadReadError struct {
	err error
}

func (e *uploadReadError) Error() string {
	return "read upload: " + e.err.Error()
}

func (e *uploadReadError) Unwrap() error {
	return e.err
}

type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = &uploadReadError{err: err}
	}
	return n, err
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
