// Package main provides the entry point for the speelycaptor staging service.
//
// Speelycaptor holds short-lived uploads for clients that cannot run ffmpeg
// themselves. A client asks for an upload slot, pushes a file to it, asks
// for a conversion, and pulls the result. Every slot expires after a few
// minutes and is swept from disk.
//
// # Application Lifecycle
//
//  1. Memory Configuration: Sets the Go memory limit from MEMORY_LIMIT
//  2. Entropy Check: Refuses to start without a working random source
//  3. Configuration Loading: Reads environment variables and checks TMP_DIR
//  4. Staging Store: Locks TMP_DIR, purges or reloads the index, starts the sweeper
//  5. Transcoder: Checks ffmpeg and ffprobe are on PATH
//  6. HTTP Server Setup: Routes, request ID, access log and metrics middleware
//  7. Graceful Shutdown: Handles SIGINT/SIGTERM
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default [::]:34221):
//     - GET /init, POST /push/{key}, GET /pull/{key}
//     - POST /convert?key=...&args=...
//     - DELETE /file/{key}
//     - /health, /livez, /readyz, /version
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//
// # Environment Variables
//
//   - EXTERNAL_URL: Public base URL used in returned links (required)
//   - HOST, PORT: Listen address (default: ::, 34221)
//   - TMP_DIR: Staging directory (default: $TMPDIR/speelycaptor)
//   - PURGE_ON_START: Empty TMP_DIR at boot (default: true)
//   - INDEX_BACKEND: json or sqlite (default: json)
//   - UPLOAD_TTL: Slot lifetime (default: 240s)
//   - SWEEP_INTERVAL: Expiry sweep period (default: 60s)
//   - MAX_UPLOAD_BYTES: Push size limit (default: 200 MiB)
//   - VALIDATE_UPLOADS: Run ffprobe on pushed files (default: true)
//   - CONVERT_TIMEOUT: ffmpeg wall clock limit (default: 10m)
//   - FFMPEG_PATH, FFPROBE_PATH: Binaries (default: from PATH)
//   - METRICS_ENABLED, METRICS_PORT: Metrics server (default: true, 9090)
//   - LOG_LEVEL, LOG_HEALTH_CHECKS: Logging
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: Memory limit
//
// # Graceful Shutdown
//
//  1. Kill running ffmpeg processes
//  2. Shutdown main HTTP server (30s timeout)
//  3. Stop metrics collector
//  4. Shutdown metrics server (if running)
//  5. Stop the sweeper, write the index and release the TMP_DIR lock
//
// # Related Packages
//
//   - [speelycaptor/internal/staging]: Keyed temporary store with expiry
//   - [speelycaptor/internal/transcoder]: ffprobe validation and ffmpeg conversion
//   - [speelycaptor/internal/handlers]: HTTP request handlers
//   - [speelycaptor/internal/middleware]: Request ID, access log, metrics
//   - [speelycaptor/internal/startup]: Configuration and boot logging
package main
