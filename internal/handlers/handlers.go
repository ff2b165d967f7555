package handlers

import (
	"context"
	"time"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/metrics"
	"speelycaptor/internal/staging"
	"speelycaptor/internal/startup"
	"speelycaptor/internal/streaming"
)

// Store is the part of staging.Store the handlers use.
type Store interface {
	Allocate(ctx context.Context, lifetime time.Duration) (staging.Entry, error)
	Resolve(key string) (string, error)
	Commit(ctx context.Context, key, src string) error
	Release(ctx context.Context, key string) error
	Root() string
	Ready() bool
	StagingStats() metrics.Stats
}

// Transcoder is the part of transcoder.Transcoder the handlers use.
type Transcoder interface {
	Validate(ctx context.Context, dir, path string) error
	Convert(ctx context.Context, input, output, args string) error
}

// Config carries the settings the handlers need from startup.Config.
type Config struct {
	ExternalURL     string
	UploadTTL       time.Duration
	MaxUploadBytes  int64
	ValidateUploads bool
	Stream          streaming.Config
	Retry           filesystem.RetryConfig
}

// ConfigFrom builds a handler Config from the application config.
func ConfigFrom(c *startup.Config) Config {
	return Config{
		ExternalURL:     c.ExternalURL,
		UploadTTL:       c.UploadTTL,
		MaxUploadBytes:  c.MaxUploadBytes,
		ValidateUploads: c.ValidateUploads,
		Stream:          streaming.DefaultConfig(),
		Retry:           filesystem.DefaultRetryConfig(),
	}
}

type Handlers struct {
	store      Store
	transcoder Transcoder
	config     Config
	startTime  time.Time
}

func New(store Store, trans Transcoder, config Config) *Handlers {
	if config.UploadTTL <= 0 {
		config.UploadTTL = startup.DefaultUploadTTL
	}
	return &Handlers{
		store:      store,
		transcoder: trans,
		config:     config,
		startTime:  time.Now(),
	}
}

func (h *Handlers) pushURL(key string) string {
	return h.config.ExternalURL + "/push/" + key
}

func (h *Handlers) pullURL(key string) string {
	return h.config.ExternalURL + "/pull/" + key
}
