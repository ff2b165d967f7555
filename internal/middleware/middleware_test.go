package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	dto "github.com/prometheus/client_model/go"

	"speelycaptor/internal/metrics"
)

var testKey = strings.Repeat("ab", 64)

// captureLog redirects the standard logger for the duration of a test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(defaultLogOutput)
		log.SetFlags(flags)
	})
	return &buf
}

var defaultLogOutput = log.Writer()

func counterValue(t *testing.T, method, path, status string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestStatusRecorder(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())

	if rec.status != http.StatusOK || rec.bytes != 0 || rec.wrote {
		t.Fatalf("unexpected initial state: %+v", rec)
	}

	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusNotFound {
		t.Errorf("status = %d, want first WriteHeader to win", rec.status)
	}

	data := []byte("test data")
	n, err := rec.Write(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != len(data) || rec.bytes != int64(len(data)) {
		t.Errorf("wrote %d, recorded %d, want %d", n, rec.bytes, len(data))
	}
}

func TestStatusRecorderImplicitHeader(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.Write([]byte("x"))
	if !rec.wrote || rec.status != http.StatusOK {
		t.Errorf("Write without WriteHeader should record 200, got %d", rec.status)
	}
	if _, ok := interface{}(rec).(http.Flusher); !ok {
		t.Error("statusRecorder should implement http.Flusher")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("Generates an ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/init", http.NoBody))

		got := w.Header().Get(RequestIDHeader)
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("X-Request-ID %q is not a UUID: %v", got, err)
		}
		if seen != got {
			t.Errorf("context ID %q differs from header %q", seen, got)
		}
	})

	t.Run("Reuses a valid incoming ID", func(t *testing.T) {
		incoming := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/init", http.NoBody)
		req.Header.Set(RequestIDHeader, incoming)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != incoming {
			t.Errorf("X-Request-ID = %q, want %q", got, incoming)
		}
	})

	t.Run("Replaces a malformed incoming ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/init", http.NoBody)
		req.Header.Set(RequestIDHeader, "evil\nvalue")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get(RequestIDHeader)
		if got == "evil\nvalue" {
			t.Fatal("malformed request ID was echoed")
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("X-Request-ID %q is not a UUID", got)
		}
	})

	if GetRequestID(httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context()) != "" {
		t.Error("GetRequestID outside the middleware should be empty")
	}
}

func TestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		config        LoggingConfig
		expectLogging bool
	}{
		{"Logs regular requests", "/init", DefaultLoggingConfig(), true},
		{"Logs health checks when enabled", "/health", LoggingConfig{LogHealthChecks: true}, true},
		{"Skips health checks when disabled", "/health", LoggingConfig{LogHealthChecks: false}, false},
		{"Skips configured paths", "/version", LoggingConfig{SkipPaths: []string{"/version"}, LogHealthChecks: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)

			handler := Logger(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
			if logged := buf.Len() > 0; logged != tt.expectLogging {
				t.Errorf("logged = %v, want %v (output %q)", logged, tt.expectLogging, buf.String())
			}
		})
	}
}

func TestLoggerRedactsKeys(t *testing.T) {
	buf := captureLog(t)

	handler := RequestID(Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	req := httptest.NewRequest(http.MethodPost, "/convert?key="+testKey+"&args=-vf+scale%3D320%3A240", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	req = httptest.NewRequest(http.MethodGet, "/pull/"+testKey, http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, testKey) {
		t.Fatalf("full key leaked into access log: %s", out)
	}
	if !strings.Contains(out, "/pull/abababab...") {
		t.Errorf("expected redacted path in log, got %s", out)
	}
	if !strings.Contains(out, "key=abababab...") {
		t.Errorf("expected redacted query in log, got %s", out)
	}
	if !strings.Contains(out, " 404 ") {
		t.Errorf("expected status in log, got %s", out)
	}
}

func TestAccessLogLine(t *testing.T) {
	access := newAccessLog(DefaultLoggingConfig())

	req := httptest.NewRequest(http.MethodGet, "/init", http.NoBody)
	req.RemoteAddr = "[2001:db8::1]:5555"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11)")

	rec := newStatusRecorder(httptest.NewRecorder())
	rec.Write([]byte("12345"))

	now := time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)
	got := access.line(now, req, rec, 42*time.Millisecond)
	want := `2024-03-01 10:20:30 2001:db8::1 GET /init - 200 5 42 - "Mozilla/5.0 (X11)"`
	if got != want {
		t.Errorf("line() =\n%s\nwant\n%s", got, want)
	}
}

func TestCleanField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line\nbreak", "line break"},
		{"carriage\rreturn", "carriage return"},
		{"nul\x00byte", "nulbyte"},
		{"\x1b[31mred", "[31mred"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07", "bell"},
		{"del\x7f", "del"},
	}
	for _, tt := range tests {
		if got := cleanField(tt.in); got != tt.want {
			t.Errorf("cleanField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactKeys(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/init", "/init"},
		{"/pull/" + testKey, "/pull/abababab..."},
		{"key=" + testKey + "&args=x", "key=abababab...&args=x"},
		{"/pull/" + strings.ToUpper(testKey), "/pull/" + strings.ToUpper(testKey)},
		{"/pull/" + testKey[:100], "/pull/" + testKey[:100]},
	}
	for _, tt := range tests {
		if got := redactKeys(tt.in); got != tt.want {
			t.Errorf("redactKeys(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"Remote address", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"IPv6 remote address", "[2001:db8::2]:1234", nil, "2001:db8::2"},
		{"Forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"Real IP", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuoteField(t *testing.T) {
	if got := quoteField("curl/8.0"); got != "curl/8.0" {
		t.Errorf("quoteField(simple) = %q", got)
	}
	if got := quoteField(`a "b" c`); got != `"a ""b"" c"` {
		t.Errorf("quoteField(quoted) = %q", got)
	}
}

func TestAccessLogSkip(t *testing.T) {
	quiet := newAccessLog(LoggingConfig{SkipPaths: []string{"/version"}})
	if !quiet.skip("/readyz") || !quiet.skip("/version/x") || quiet.skip("/init") {
		t.Error("unexpected skip decisions with health checks off")
	}
	loud := newAccessLog(DefaultLoggingConfig())
	if loud.skip("/readyz") {
		t.Error("health checks should be logged by default")
	}
}

func TestDefaultMetricsConfig(t *testing.T) {
	config := DefaultMetricsConfig()

	for _, path := range []string{"/metrics", "/health", "/livez", "/readyz"} {
		found := false
		for _, skip := range config.SkipPaths {
			if skip == path {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s in SkipPaths", path)
		}
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Metrics(DefaultMetricsConfig()))
	router.HandleFunc("/pull/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	before := counterValue(t, http.MethodGet, "/pull/{key}", "404")

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pull/"+testKey, http.NoBody))
	}

	if got := counterValue(t, http.MethodGet, "/pull/{key}", "404") - before; got != 3 {
		t.Errorf("requests recorded under route template = %v, want 3", got)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	before := counterValue(t, http.MethodGet, "/health", "200")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if got := counterValue(t, http.MethodGet, "/health", "200"); got != before {
		t.Errorf("health check was recorded: %v -> %v", before, got)
	}
}

func TestMetricsMiddlewareStatusCode(t *testing.T) {
	handler := Metrics(MetricsConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	before := counterValue(t, http.MethodPost, "/push/{key}", "422")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/push/"+testKey, http.NoBody))

	if got := counterValue(t, http.MethodPost, "/push/{key}", "422") - before; got != 1 {
		t.Errorf("422 count delta = %v, want 1", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/init", "/init"},
		{"/push/" + testKey, "/push/{key}"},
		{"/file/" + testKey, "/file/{key}"},
		{"/a/b/c/d/e", "/a/b/{path}"},
		{"/", "/"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func BenchmarkLoggingMiddleware(b *testing.B) {
	log.SetOutput(&bytes.Buffer{})
	defer log.SetOutput(defaultLogOutput)

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/pull/"+testKey, http.NoBody)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
