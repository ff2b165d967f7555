package startup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"speelycaptor/internal/logging"
	"speelycaptor/internal/memory"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	Host        string
	Port        string
	ExternalURL string
	TmpDir      string

	PurgeOnStart  bool
	IndexBackend  string
	UploadTTL     time.Duration
	SweepInterval time.Duration

	MaxUploadBytes  int64
	ValidateUploads bool
	ConvertTimeout  time.Duration
	FFmpegPath      string
	FFprobePath     string

	MetricsEnabled  bool
	MetricsPort     string
	LogHealthChecks bool
}

// ListenAddr returns the application listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// MetricsAddr returns the metrics server listen address.
func (c *Config) MetricsAddr() string {
	return net.JoinHostPort(c.Host, c.MetricsPort)
}

// Defaults
const (
	DefaultHost           = "::"
	DefaultPort           = "34221"
	DefaultMetricsPort    = "9090"
	DefaultUploadTTL      = 240 * time.Second
	DefaultSweepInterval  = 60 * time.Second
	DefaultMaxUploadBytes = 209715200
	DefaultConvertTimeout = 10 * time.Minute
)

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	config, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	logging.Info("  HOST:                %s", config.Host)
	logging.Info("  PORT:                %s", config.Port)
	logging.Info("  EXTERNAL_URL:        %s", config.ExternalURL)
	logging.Info("  TMP_DIR:             %s", config.TmpDir)
	logging.Info("  PURGE_ON_START:      %v", config.PurgeOnStart)
	logging.Info("  INDEX_BACKEND:       %s", config.IndexBackend)
	logging.Info("  UPLOAD_TTL:          %v", config.UploadTTL)
	logging.Info("  SWEEP_INTERVAL:      %v", config.SweepInterval)
	logging.Info("  MAX_UPLOAD_BYTES:    %d", config.MaxUploadBytes)
	logging.Info("  VALIDATE_UPLOADS:    %v", config.ValidateUploads)
	logging.Info("  CONVERT_TIMEOUT:     %v", config.ConvertTimeout)
	logging.Info("  FFMPEG_PATH:         %s", config.FFmpegPath)
	logging.Info("  FFPROBE_PATH:        %s", config.FFprobePath)
	logging.Info("  METRICS_PORT:        %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", config.MetricsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	// The staging root itself may be purged at boot; its parent must be usable.
	parent := filepath.Dir(config.TmpDir)
	if err := ensureDirectory(parent, "staging parent"); err != nil {
		return nil, fmt.Errorf("staging directory error: %w", err)
	}
	logging.Debug("  Testing staging parent write access...")
	if err := testWriteAccess(parent); err != nil {
		return nil, fmt.Errorf("staging parent %s is not writable: %w", parent, err)
	}
	logging.Info("  [OK] Staging directory parent is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Upload validation: %s", enabledString(config.ValidateUploads))
	logging.Info("    Boot purge:        %s", enabledString(config.PurgeOnStart))
	logging.Info("    Metrics:           %s", enabledString(config.MetricsEnabled))

	return config, nil
}

// configFromEnv parses and validates the environment without side effects
// beyond logging.
func configFromEnv() (*Config, error) {
	externalURL, err := normalizeExternalURL(os.Getenv("EXTERNAL_URL"))
	if err != nil {
		return nil, err
	}

	tmpDir, err := filepath.Abs(getEnv("TMP_DIR", filepath.Join(os.TempDir(), "speelycaptor")))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory path: %w", err)
	}

	backend := strings.ToLower(getEnv("INDEX_BACKEND", "json"))
	if backend != "json" && backend != "sqlite" {
		return nil, fmt.Errorf("invalid INDEX_BACKEND %q (want json or sqlite)", backend)
	}

	config := &Config{
		Host:            getEnv("HOST", DefaultHost),
		Port:            getEnv("PORT", DefaultPort),
		ExternalURL:     externalURL,
		TmpDir:          tmpDir,
		PurgeOnStart:    getEnvBool("PURGE_ON_START", true),
		IndexBackend:    backend,
		UploadTTL:       getEnvDuration("UPLOAD_TTL", DefaultUploadTTL),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		MaxUploadBytes:  getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		ValidateUploads: getEnvBool("VALIDATE_UPLOADS", true),
		ConvertTimeout:  getEnvDuration("CONVERT_TIMEOUT", DefaultConvertTimeout),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		MetricsPort:     getEnv("METRICS_PORT", DefaultMetricsPort),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),
	}

	if err := validatePort("PORT", config.Port); err != nil {
		return nil, err
	}
	if config.MetricsEnabled {
		if err := validatePort("METRICS_PORT", config.MetricsPort); err != nil {
			return nil, err
		}
		if config.MetricsPort == config.Port {
			return nil, errors.New("METRICS_PORT must differ from PORT")
		}
	}

	return config, nil
}

// normalizeExternalURL requires an absolute http(s) URL and strips any
// trailing slash so paths can be appended directly.
func normalizeExternalURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("EXTERNAL_URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid EXTERNAL_URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid EXTERNAL_URL %q: want an absolute http(s) URL", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

func validatePort(name, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s %q", name, value)
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogMemoryConfig logs the Go memory limit decided at boot
func LogMemoryConfig(result memory.ConfigResult) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	switch result.Source {
	case memory.SourceGOMEMLIMIT:
		logging.Info("  GOMEMLIMIT:      %s (from environment)", memory.FormatBytes(result.GoMemLimit))
	case memory.SourceMemoryLimit:
		logging.Info("  Container limit: %s", memory.FormatBytes(result.ContainerLimit))
		logging.Info("  GOMEMLIMIT:      %s (%.0f%%, rest reserved for ffmpeg)", memory.FormatBytes(result.GoMemLimit), result.Ratio*100)
	default:
		logging.Info("  GOMEMLIMIT:      not configured (set MEMORY_LIMIT to enable)")
	}
}

// LogStagingInit logs staging store initialization
func LogStagingInit(root, backend string, entries int, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("STAGING STORE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Root:            %s", root)
	logging.Info("  Index backend:   %s", backend)
	logging.Info("  Entries loaded:  %d", entries)
	logging.Info("  [OK] Staging store initialized in %v", duration)
}

// LogSweeperStarted logs the start of the expiry sweeper
func LogSweeperStarted(interval time.Duration) {
	logging.Info("  [OK] Sweeper started (interval: %v)", interval)
}

// LogTranscoderInit logs transcoder initialization and checks the FFmpeg tools
func LogTranscoderInit(ffmpegPath, ffprobePath string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSCODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	for _, bin := range []struct{ name, path string }{
		{"FFmpeg", ffmpegPath},
		{"FFprobe", ffprobePath},
	} {
		if err := checkBinary(bin.path); err != nil {
			logging.Warn("  %s check failed: %v", bin.name, err)
			logging.Warn("  Uploads and conversions will fail until %s is installed", bin.path)
		} else {
			logging.Info("  [OK] %s is available", bin.name)
		}
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		sort.Slice(routes, func(i, j int) bool {
			if routes[i].Path != routes[j].Path {
				return routes[i].Path < routes[j].Path
			}
			return routes[i].Method < routes[j].Method
		})

		logging.Debug("  Registered routes (%d total):", len(routes))
		for _, route := range routes {
			logging.Debug("    %-6s %s", route.Method, route.Path)
		}
		logging.Debug("")
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	ListenAddr      string
	ExternalURL     string
	MetricsAddr     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Listening:     %s", config.ListenAddr)
	logging.Info("    Public URL:    %s", config.ExternalURL)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://%s/metrics", config.MetricsAddr)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
                     _                       _
 ___ _ __   ___  ___| |_   _  ___ __ _ _ __ | |_ ___  _ __
/ __| '_ \ / _ \/ _ \ | | | |/ __/ _' | '_ \| __/ _ \| '__|
\__ \ |_) |  __/  __/ | |_| | (_| (_| | |_) | || (_) | |
|___/ .__/ \___|\___|_|\__, |\___\__,_| .__/ \__\___/|_|
    |_|                |___/          |_|
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())

		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := testFile.Name()
	if err := testFile.Close(); err != nil {
		logging.Warn("failed to close write test file %s: %v", name, err)
	}
	if err := os.Remove(name); err != nil {
		logging.Warn("failed to remove write test file %s: %v", name, err)
		// Don't return error since write access was confirmed
	}
	return nil
}

func checkBinary(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	logging.Debug("  %s path: %s", name, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", name, err)
	}

	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		logging.Debug("  %s version: %s", name, strings.TrimSpace(first))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") and bare integers as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		logging.Warn("  Invalid %s %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		logging.Warn("  Invalid %s %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
