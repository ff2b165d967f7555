// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig]:
//
//   - HOST: listen address (default: ::)
//   - PORT: HTTP server port (default: 34221)
//   - EXTERNAL_URL: public base URL used to build upload and pull links (required)
//   - TMP_DIR: staging directory (default: $TMPDIR/speelycaptor)
//   - PURGE_ON_START: wipe the staging directory at boot (default: true)
//   - INDEX_BACKEND: json or sqlite (default: json)
//   - UPLOAD_TTL: lifetime of upload and conversion slots (default: 240s)
//   - SWEEP_INTERVAL: expiry sweep period (default: 60s)
//   - MAX_UPLOAD_BYTES: request body limit for pushes (default: 209715200)
//   - VALIDATE_UPLOADS: run ffprobe on every push (default: true)
//   - CONVERT_TIMEOUT: watchdog for a single ffmpeg run (default: 10m)
//   - FFMPEG_PATH, FFPROBE_PATH: tool binaries (default: ffmpeg, ffprobe)
//   - METRICS_ENABLED, METRICS_PORT: Prometheus server (default: true, 9090)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: log health probe requests (default: true)
//
// Durations accept Go syntax ("90s") or a bare number of seconds.
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed via
// [GetBuildInfo].
//
// # Lifecycle Logging
//
//	config, err := startup.LoadConfig()
//	if err != nil {
//	    startup.LogFatal("Configuration error: %v", err)
//	}
//	startup.LogStagingInit(store.Root(), store.Backend(), store.Len(), time.Since(t0))
//	startup.LogServerStarted(startup.ServerConfig{...})
//	startup.LogShutdownInitiated("SIGTERM")
//	startup.LogShutdownComplete()
package startup
