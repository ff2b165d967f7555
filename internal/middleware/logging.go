package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"speelycaptor/internal/keygen"
)

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig logs everything, health checks included.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{LogHealthChecks: true}
}

var healthCheckPaths = []string{"/health", "/healthz", "/livez", "/readyz"}

// accessLog writes one W3C extended format line per request through the
// standard logger. Fields: date time c-ip cs-method cs-uri-stem
// cs-uri-query sc-status sc-bytes time-taken x-request-id cs(User-Agent).
type accessLog struct {
	skipPrefixes []string
	skipExact    map[string]bool
}

func newAccessLog(config LoggingConfig) *accessLog {
	a := &accessLog{
		skipPrefixes: config.SkipPaths,
		skipExact:    make(map[string]bool),
	}
	if !config.LogHealthChecks {
		for _, p := range healthCheckPaths {
			a.skipExact[p] = true
		}
	}
	return a
}

func (a *accessLog) skip(path string) bool {
	if a.skipExact[path] {
		return true
	}
	for _, prefix := range a.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// line renders a request. Every client-controlled field is cleaned, and
// staging keys are cut down so the log never holds a usable key.
func (a *accessLog) line(now time.Time, r *http.Request, rec *statusRecorder, took time.Duration) string {
	fields := []string{
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		orDash(cleanField(clientIP(r))),
		orDash(cleanField(r.Method)),
		orDash(redactKeys(cleanField(r.URL.Path))),
		orDash(redactKeys(cleanField(r.URL.RawQuery))),
		strconv.Itoa(rec.status),
		strconv.FormatInt(rec.bytes, 10),
		strconv.FormatInt(took.Milliseconds(), 10),
		orDash(GetRequestID(r.Context())),
		orDash(quoteField(cleanField(r.Header.Get("User-Agent")))),
	}
	return strings.Join(fields, " ")
}

// Logger returns HTTP logging middleware using W3C Extended Log Format
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	access := newAccessLog(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if access.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)
			log.Println(access.line(time.Now().UTC(), r, rec, time.Since(start)))
		})
	}
}

// cleanField drops control characters so a client cannot forge log lines
// or smuggle terminal escapes. Line breaks become spaces; tabs survive.
func cleanField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// redactKeys shortens every staging key found in a path or query string.
func redactKeys(s string) string {
	if len(s) < keygen.Length {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if i+keygen.Length <= len(s) && keygen.Valid(s[i:i+keygen.Length]) {
			b.WriteString(s[i : i+8])
			b.WriteString("...")
			i += keygen.Length
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}

// quoteField wraps a field holding spaces or quotes in W3C quoting.
func quoteField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
