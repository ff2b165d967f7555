package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"speelycaptor/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout means a single write, or the whole transfer, ran past
	// its limit. Usually a client reading too slowly.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context was canceled mid-transfer.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled means the writer was closed or went idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Config bounds a transfer.
type Config struct {
	// WriteTimeout is the maximum time to wait for a single write.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum time between successful writes.
	IdleTimeout time.Duration
	// MaxDuration caps the whole transfer (0 = unlimited).
	MaxDuration time.Duration
	// ChunkSize splits large writes and flushes between chunks (0 = off).
	ChunkSize int
}

// DefaultConfig suits pulling staged files of up to a few hundred MB.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxDuration:  0,
		ChunkSize:    256 * 1024,
	}
}

// TimeoutWriter wraps an http.ResponseWriter so stalled clients are cut off
// instead of pinning a handler goroutine.
type TimeoutWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	cancel  context.CancelFunc
	config  Config

	mu        sync.Mutex
	started   time.Time
	lastWrite time.Time
	written   int64
	closed    bool
	idle      bool
}

// NewTimeoutWriter creates a TimeoutWriter bound to ctx, normally the
// request context.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config Config) *TimeoutWriter {
	writerCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	tw := &TimeoutWriter{
		w:         w,
		ctx:       writerCtx,
		cancel:    cancel,
		config:    config,
		started:   now,
		lastWrite: now,
	}
	if f, ok := w.(http.Flusher); ok {
		tw.flusher = f
	}

	if config.IdleTimeout > 0 {
		go tw.watchIdle()
	}
	return tw
}

// Write implements io.Writer.
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	if err := tw.check(); err != nil {
		return 0, err
	}

	size := tw.config.ChunkSize
	if size <= 0 || len(p) <= size {
		return tw.writeOnce(p)
	}

	total := 0
	for len(p) > 0 {
		if err := tw.check(); err != nil {
			return total, err
		}

		n := min(size, len(p))
		written, err := tw.writeOnce(p[:n])
		total += written
		if err != nil {
			return total, err
		}
		p = p[n:]

		if tw.flusher != nil {
			tw.flusher.Flush()
		}
	}
	return total, nil
}

// check reports why no further writes may happen, if any.
func (tw *TimeoutWriter) check() error {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return ErrStreamCanceled
	}

	if tw.ctx.Err() != nil {
		return tw.contextError()
	}

	if tw.config.MaxDuration > 0 && time.Since(tw.started) > tw.config.MaxDuration {
		return ErrWriteTimeout
	}
	return nil
}

func (tw *TimeoutWriter) writeOnce(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := tw.w.Write(p)
		done <- result{n, err}
	}()

	var timeout <-chan time.Time
	if tw.config.WriteTimeout > 0 {
		timer := time.NewTimer(tw.config.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.n > 0 {
			tw.mu.Lock()
			tw.lastWrite = time.Now()
			tw.written += int64(r.n)
			tw.mu.Unlock()
		}
		return r.n, r.err
	case <-timeout:
		tw.cancel()
		return 0, ErrWriteTimeout
	case <-tw.ctx.Done():
		return 0, tw.contextError()
	}
}

func (tw *TimeoutWriter) watchIdle() {
	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			closed := tw.closed
			if !closed && idle > tw.config.IdleTimeout {
				tw.idle = true
			}
			expired := tw.idle
			tw.mu.Unlock()

			if closed {
				return
			}
			if expired {
				logging.Warn("Stream idle timeout exceeded: %v", idle)
				tw.cancel()
				return
			}
		case <-tw.ctx.Done():
			return
		}
	}
}

func (tw *TimeoutWriter) contextError() error {
	tw.mu.Lock()
	idle, closed := tw.idle, tw.closed
	tw.mu.Unlock()

	switch {
	case idle:
		return ErrWriteTimeout
	case closed:
		return ErrStreamCanceled
	case errors.Is(tw.ctx.Err(), context.Canceled):
		return ErrClientGone
	default:
		return ErrStreamCanceled
	}
}

// Close stops the writer. Further writes fail with ErrStreamCanceled.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if !tw.closed {
		tw.closed = true
		tw.cancel()
	}
	return nil
}

// Stats returns bytes written and time elapsed since creation.
func (tw *TimeoutWriter) Stats() (int64, time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written, time.Since(tw.started)
}

// Stream copies r to w as an opaque binary body. A non-negative size is
// sent as Content-Length; otherwise the response is chunked.
func Stream(ctx context.Context, w http.ResponseWriter, r io.Reader, size int64, config Config) (int64, error) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}

	tw := NewTimeoutWriter(ctx, w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()

	_, err := io.Copy(tw, r)

	written, duration := tw.Stats()
	logging.Debug("Stream completed: %d bytes in %v", written, duration)
	return written, err
}

// IsClientError reports whether err came from the client side of a
// transfer (gone or too slow) rather than from the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrClientGone) || errors.Is(err, ErrWriteTimeout) || errors.Is(err, ErrStreamCanceled)
}
