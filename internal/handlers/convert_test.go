package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"speelycaptor/internal/keygen"
	"speelycaptor/internal/staging"
	"speelycaptor/internal/transcoder"

	"github.com/gorilla/mux"
)

func convertTarget(key, args string) string {
	q := url.Values{}
	q.Set("key", key)
	q.Set("args", args)
	return "/convert?" + q.Encode()
}

func TestConvert(t *testing.T) {
	t.Parallel()

	_, store, trans, router := newTestHandlers(t, testConfig())
	key := store.allocate(t, []byte("source"))

	w := serve(router, http.MethodPost, convertTarget(key, "-vf scale=320:240 -f mp4"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ConvertResponse
	decodeJSON(t, w, &resp)

	if !keygen.Valid(resp.Key) || resp.Key == key {
		t.Errorf("Expected a fresh output key, got %q", resp.Key)
	}
	if resp.URL != testExternalURL+"/pull/"+resp.Key {
		t.Errorf("Unexpected URL %q", resp.URL)
	}
	if !store.has(resp.Key) || !store.has(key) {
		t.Error("Both input and output keys should resolve")
	}

	if len(trans.convertCalls) != 1 {
		t.Fatalf("Expected one conversion, got %d", len(trans.convertCalls))
	}
	call := trans.convertCalls[0]
	if call.input != store.path(key) {
		t.Errorf("Unexpected input path: %+v", call)
	}
	if filepath.Dir(call.output) != store.root || call.output == store.path(resp.Key) {
		t.Errorf("ffmpeg should write to a scratch file in the root, got %s", call.output)
	}
	if fileExists(call.output) {
		t.Errorf("Scratch output %s left behind", call.output)
	}
	if call.args != "-vf scale=320:240 -f mp4" {
		t.Errorf("Args should reach the transcoder untouched, got %q", call.args)
	}

	data, _ := os.ReadFile(store.path(resp.Key))
	if string(data) != "SOURCE" {
		t.Errorf("Expected converted output, got %q", data)
	}
}

func TestConvertEmptyArgs(t *testing.T) {
	t.Parallel()

	_, store, trans, router := newTestHandlers(t, testConfig())
	key := store.allocate(t, []byte("source"))

	w := serve(router, http.MethodPost, "/convert?key="+key+"&args=", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if trans.convertCalls[0].args != "" {
		t.Errorf("Expected empty args, got %q", trans.convertCalls[0].args)
	}
}

func TestConvertBadRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
	}{
		{"no params", "/convert"},
		{"missing args", "/convert?key=abc"},
		{"missing key", "/convert?args=-f+mp4"},
		{"empty key", "/convert?key=&args=-f+mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, trans, router := newTestHandlers(t, testConfig())

			w := serve(router, http.MethodPost, tt.target, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if len(trans.convertCalls) != 0 {
				t.Error("Transcoder should not run")
			}
		})
	}
}

func TestConvertNotFound(t *testing.T) {
	t.Parallel()

	_, store, trans, router := newTestHandlers(t, testConfig())
	empty := store.allocate(t, nil)

	for _, key := range []string{keygen.New(), empty} {
		w := serve(router, http.MethodPost, convertTarget(key, "-f mp4"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	}
	if len(trans.convertCalls) != 0 {
		t.Error("Transcoder should not run")
	}
	if got := store.StagingStats().Entries; got != 1 {
		t.Errorf("Expected no output slot allocated, have %d entries", got)
	}
}

func TestConvertFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "ffmpeg exit",
			err:     &transcoder.ConversionError{ExitCode: 1, Stderr: "Unrecognized option 'bogus'", Err: errors.New("exit status 1")},
			message: "conversion failed (exit code 1)",
		},
		{
			name:    "timeout",
			err:     &transcoder.ConversionError{ExitCode: -1, Err: context.DeadlineExceeded},
			message: "conversion failed (exit code -1)",
		},
		{
			name:    "stopped",
			err:     transcoder.ErrStopped,
			message: "conversion failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, store, trans, router := newTestHandlers(t, testConfig())
			trans.convertErr = tt.err
			key := store.allocate(t, []byte("source"))

			w := serve(router, http.MethodPost, convertTarget(key, "-bogus"), nil)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("Expected status 500, got %d", w.Code)
			}
			if msg := errorMessage(t, w); msg != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, msg)
			}

			if got := store.StagingStats().Entries; got != 1 {
				t.Errorf("Expected no output slot, have %d entries", got)
			}
			if !store.has(key) {
				t.Error("Input key should survive a failed conversion")
			}
			if out := trans.convertCalls[0].output; fileExists(out) {
				t.Errorf("Output file %s left behind", out)
			}
			assertNoTempFiles(t, store.root)
		})
	}
}

func TestConvertAllocateError(t *testing.T) {
	t.Parallel()

	_, store, _, router := newTestHandlers(t, testConfig())
	key := store.allocate(t, []byte("source"))
	store.allocateErr = &staging.StoreIOError{Op: "allocate", Err: errors.New("index write failed")}

	w := serve(router, http.MethodPost, convertTarget(key, "-f mp4"), nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if msg := errorMessage(t, w); strings.Contains(msg, "index") {
		t.Errorf("Internal error leaked to client: %q", msg)
	}
	if got := store.StagingStats().Entries; got != 1 {
		t.Errorf("Expected only the input slot, have %d entries", got)
	}
	assertNoTempFiles(t, store.root)
}

func TestConvertCommitError(t *testing.T) {
	t.Parallel()

	_, store, _, router := newTestHandlers(t, testConfig())
	key := store.allocate(t, []byte("source"))
	store.commitErr = &staging.StoreIOError{Op: "commit", Err: errors.New("rename failed")}

	w := serve(router, http.MethodPost, convertTarget(key, "-f mp4"), nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if got := store.StagingStats().Entries; got != 1 {
		t.Errorf("Expected the output slot released, have %d entries", got)
	}
	assertNoTempFiles(t, store.root)
}

func TestConvertUnsafeArgs(t *testing.T) {
	t.Parallel()

	_, store, trans, router := newTestHandlers(t, testConfig())
	trans.convertErr = fmt.Errorf("%w: %q", transcoder.ErrUnsafeArgs, "/etc/passwd")
	key := store.allocate(t, []byte("source"))

	w := serve(router, http.MethodPost, convertTarget(key, "-i /etc/passwd -f mp4"), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if got := store.StagingStats().Entries; got != 1 {
		t.Errorf("Expected no output slot, have %d entries", got)
	}
	assertNoTempFiles(t, store.root)
}

// slowTranscoder holds each conversion for delay before delegating.
type slowTranscoder struct {
	*mockTranscoder
	delay time.Duration
}

func (s *slowTranscoder) Convert(ctx context.Context, input, output, args string) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.mockTranscoder.Convert(ctx, input, output, args)
}

// A conversion that runs longer than the upload lifetime still hands back a
// key with the full lifetime ahead of it.
func TestConvertOutlastingLifetime(t *testing.T) {
	t.Parallel()

	backing := openStagingStore(t)
	input, err := backing.Allocate(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := os.WriteFile(input.Path, []byte("source"), 0o600); err != nil {
		t.Fatal(err)
	}

	config := testConfig()
	config.UploadTTL = 200 * time.Millisecond
	trans := &slowTranscoder{mockTranscoder: &mockTranscoder{}, delay: 300 * time.Millisecond}
	router := mux.NewRouter()
	New(backing, trans, config).Register(router)

	w := serve(router, http.MethodPost, convertTarget(input.Key, "-f mp4"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ConvertResponse
	decodeJSON(t, w, &resp)

	path, err := backing.Resolve(resp.Key)
	if err != nil {
		t.Fatalf("Converted key should resolve right after the response: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "SOURCE" {
		t.Errorf("Converted output = %q, %v", data, err)
	}
	assertNoTempFiles(t, backing.Root())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
