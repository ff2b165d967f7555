package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/handlers"
	"speelycaptor/internal/keygen"
	"speelycaptor/internal/logging"
	"speelycaptor/internal/memory"
	"speelycaptor/internal/metrics"
	"speelycaptor/internal/middleware"
	"speelycaptor/internal/staging"
	"speelycaptor/internal/startup"
	"speelycaptor/internal/transcoder"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout          = 30 * time.Second
	metricsCollectorInterval = time.Minute
)

func main() {
	startTime := time.Now()

	// Memory limit first, before anything allocates much
	startup.LogMemoryConfig(memory.ConfigureFromEnv())

	if err := keygen.Check(); err != nil {
		startup.LogFatal("Random source unavailable: %v", err)
	}

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	// Staging store
	storeStart := time.Now()
	store, err := staging.Open(context.Background(), staging.Options{
		Root:          config.TmpDir,
		Backend:       config.IndexBackend,
		Purge:         config.PurgeOnStart,
		SweepInterval: config.SweepInterval,
		Retry:         filesystem.DefaultRetryConfig(),
	})
	if err != nil {
		startup.LogFatal("Failed to open staging store: %v", err)
	}
	startup.LogStagingInit(store.Root(), store.Backend(), store.Len(), time.Since(storeStart))

	store.Start()
	startup.LogSweeperStarted(config.SweepInterval)

	// Transcoder
	startup.LogTranscoderInit(config.FFmpegPath, config.FFprobePath)
	trans := transcoder.New(transcoder.Config{
		FFmpegPath:     config.FFmpegPath,
		FFprobePath:    config.FFprobePath,
		ConvertTimeout: config.ConvertTimeout,
	})

	collector := metrics.NewCollector(store, metricsCollectorInterval)
	collector.Start()

	h := handlers.New(store, trans, handlers.ConfigFrom(config))
	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	srv := newServer(config.ListenAddr(), buildHandler(router, config))

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsAddr())
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go handleShutdown(done, srv, metricsSrv, collector, trans, store)

	startup.LogServerStarted(startup.ServerConfig{
		ListenAddr:      config.ListenAddr(),
		ExternalURL:     config.ExternalURL,
		MetricsAddr:     config.MetricsAddr(),
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	h.Register(r)
	return r
}

// buildHandler wraps the router in the access log and request ID
// middleware. The request ID has to be outermost so the log line sees it.
func buildHandler(router http.Handler, config *startup.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	logged := middleware.Logger(loggingConfig)(router)
	return middleware.RequestID(logged)
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// Uploads, conversions and pulls are long-lived; the streaming and
		// transcoder packages bound them instead.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     logging.StdLogger(logging.LevelWarn),
	}
}

func newMetricsServer(addr string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:         addr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		ErrorLog:     logging.StdLogger(logging.LevelWarn),
	}
}

func handleShutdown(done chan<- struct{}, srv, metricsSrv *http.Server, collector *metrics.Collector, trans *transcoder.Transcoder, store *staging.Store) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Cleaning up transcoder")
	trans.Cleanup()
	startup.LogShutdownStepComplete("Transcoder cleanup complete")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Closing staging store")
	if err := store.Close(); err != nil {
		logging.Warn("Staging store close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Staging store closed")
	}

	startup.LogShutdownComplete()
}
