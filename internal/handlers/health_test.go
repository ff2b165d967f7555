package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"speelycaptor/internal/startup"
)

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		closed     bool
		wantCode   int
		wantStatus string
	}{
		{"ready", false, http.StatusOK, statusHealthy},
		{"closed", true, http.StatusServiceUnavailable, statusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, store, _, router := newTestHandlers(t, testConfig())
			store.allocate(t, nil)
			store.allocate(t, nil)
			store.closed = tt.closed

			w := serve(router, http.MethodGet, "/health", nil)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, w.Code)
			}

			var resp HealthResponse
			decodeJSON(t, w, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.Ready == tt.closed {
				t.Errorf("Expected ready=%v", !tt.closed)
			}
			if resp.Entries != 2 {
				t.Errorf("Expected 2 entries, got %d", resp.Entries)
			}
			if resp.NextExpiry == "" {
				t.Error("Expected next expiry to be reported")
			}
			if resp.Version != startup.Version {
				t.Errorf("Expected version %q, got %q", startup.Version, resp.Version)
			}
		})
	}
}

func TestHealthCheckEmptyStore(t *testing.T) {
	t.Parallel()

	_, _, _, router := newTestHandlers(t, testConfig())

	w := serve(router, http.MethodGet, "/healthz", nil)
	var resp HealthResponse
	decodeJSON(t, w, &resp)
	if resp.Entries != 0 || resp.NextExpiry != "" {
		t.Errorf("Expected empty stats, got %+v", resp)
	}
}

func TestLivenessCheck(t *testing.T) {
	t.Parallel()

	_, store, _, router := newTestHandlers(t, testConfig())
	store.closed = true

	w := serve(router, http.MethodGet, "/livez", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = serve(router, http.MethodHead, "/livez", nil)
	if w.Code != http.StatusOK {
		t.Errorf("HEAD: expected status 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD: expected empty body, got %q", w.Body.String())
	}
}

func TestReadinessCheck(t *testing.T) {
	t.Parallel()

	_, store, _, router := newTestHandlers(t, testConfig())

	w := serve(router, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	store.closed = true
	w = serve(router, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var body map[string]string
	decodeJSON(t, w, &body)
	if body["status"] != "not_ready" {
		t.Errorf("Expected not_ready, got %q", body["status"])
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.UploadTTL = 90 * time.Second
	config.MaxUploadBytes = 5 << 20
	config.ValidateUploads = false
	_, _, _, router := newTestHandlers(t, config)

	w := serve(router, http.MethodGet, "/version", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Expected Cache-Control no-cache, got %q", got)
	}

	var resp VersionResponse
	decodeJSON(t, w, &resp)
	if resp.Version != startup.Version || resp.GoVersion == "" {
		t.Errorf("Unexpected build info: %+v", resp.BuildInfo)
	}
	if resp.UploadTTLSeconds != 90 || resp.MaxUploadBytes != 5<<20 || resp.ValidateUploads {
		t.Errorf("Unexpected limits: %+v", resp)
	}

	// Build fields stay at the top level of the document.
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["version"]; !ok {
		t.Errorf("Expected top-level version field, got %v", raw)
	}
}
