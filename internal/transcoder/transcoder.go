package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"speelycaptor/internal/logging"
	"speelycaptor/internal/metrics"
)

// Job kinds used as metric labels.
const (
	kindProbe   = "probe"
	kindConvert = "convert"
)

// Default binaries and limits.
const (
	DefaultFFmpegPath     = "ffmpeg"
	DefaultFFprobePath    = "ffprobe"
	DefaultConvertTimeout = 10 * time.Minute
	DefaultMaxDuration    = 600 * time.Second

	// stderrLimit caps how much diagnostic output is kept per job.
	stderrLimit = 64 * 1024
	// waitDelay bounds how long Wait blocks on pipes after a kill.
	waitDelay = 5 * time.Second
)

var (
	// ErrStopped is reported for jobs started after Cleanup.
	ErrStopped = errors.New("transcoder stopped")
	// ErrUnsafeArgs is wrapped by every rejection of conversion arguments.
	ErrUnsafeArgs = errors.New("unsafe ffmpeg arguments")
)

// Config configures a Transcoder. Zero values select the defaults.
type Config struct {
	FFmpegPath     string
	FFprobePath    string
	ConvertTimeout time.Duration
	MaxDuration    time.Duration
}

// Transcoder runs ffprobe and ffmpeg as child processes.
type Transcoder struct {
	ffmpegPath     string
	ffprobePath    string
	convertTimeout time.Duration
	maxDuration    time.Duration

	processes map[*exec.Cmd]string
	processMu sync.Mutex
	stopped   bool
}

// ConversionError describes a failed ffmpeg run.
type ConversionError struct {
	// ExitCode is -1 when the process did not exit normally (not started,
	// killed, timed out).
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("conversion failed (exit code %d): %v", e.ExitCode, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLine(stderr)
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// New creates a Transcoder.
func New(cfg Config) *Transcoder {
	t := &Transcoder{
		ffmpegPath:     cfg.FFmpegPath,
		ffprobePath:    cfg.FFprobePath,
		convertTimeout: cfg.ConvertTimeout,
		maxDuration:    cfg.MaxDuration,
		processes:      make(map[*exec.Cmd]string),
	}
	if t.ffmpegPath == "" {
		t.ffmpegPath = DefaultFFmpegPath
	}
	if t.ffprobePath == "" {
		t.ffprobePath = DefaultFFprobePath
	}
	if t.convertTimeout <= 0 {
		t.convertTimeout = DefaultConvertTimeout
	}
	if t.maxDuration <= 0 {
		t.maxDuration = DefaultMaxDuration
	}
	return t
}

// protocolToken matches tokens ffmpeg would open as a URL ("tcp:", "http:").
var protocolToken = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)

// SplitArgs splits args on whitespace and rejects tokens that would let
// ffmpeg read or write anything besides the job's input and output: extra
// -i inputs, filesystem paths and protocol URLs. Relative names are allowed
// and resolve inside the job's empty working directory.
func SplitArgs(args string) ([]string, error) {
	fields := strings.Fields(args)
	for _, f := range fields {
		switch {
		case f == "-i":
			return nil, fmt.Errorf("%w: additional inputs are not allowed", ErrUnsafeArgs)
		case strings.ContainsAny(f, `/\`) || strings.Contains(f, ".."):
			return nil, fmt.Errorf("%w: path in %q", ErrUnsafeArgs, f)
		case protocolToken.MatchString(f):
			return nil, fmt.Errorf("%w: protocol in %q", ErrUnsafeArgs, f)
		}
	}
	return fields, nil
}

// ConvertArgs builds the ffmpeg argument vector. Staged files have no
// extension, so when fields carry no -f the output container is set to
// format, if known.
func ConvertArgs(input, output, format string, fields []string) []string {
	argv := make([]string, 0, len(fields)+10)
	argv = append(argv, "-y", "-loglevel", "warning", "-protocol_whitelist", "file", "-i", input)
	argv = append(argv, fields...)
	if format != "" && !hasFormat(fields) {
		argv = append(argv, "-f", format)
	}
	return append(argv, output)
}

func hasFormat(fields []string) bool {
	for _, f := range fields {
		if f == "-f" {
			return true
		}
	}
	return false
}

// Convert runs ffmpeg on input writing output, forwarding args as discrete
// arguments. Rejected args wrap ErrUnsafeArgs; any other failure, including
// a non-zero exit status, is returned as a *ConversionError.
func (t *Transcoder) Convert(ctx context.Context, input, output, args string) error {
	fields, err := SplitArgs(args)
	if err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues(kindConvert, "rejected").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.convertTimeout)
	defer cancel()

	if input, err = filepath.Abs(input); err == nil {
		output, err = filepath.Abs(output)
	}
	if err != nil {
		return &ConversionError{ExitCode: -1, Err: err}
	}

	var format string
	if !hasFormat(fields) {
		format = t.containerFormat(ctx, input)
	}

	// Each job gets an empty working directory so relative names in args
	// cannot reach staged files.
	workDir, err := os.MkdirTemp("", "speelycaptor-ffmpeg-*")
	if err != nil {
		return &ConversionError{ExitCode: -1, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logging.Warn("Failed to remove ffmpeg work dir %s: %v", workDir, err)
		}
	}()

	argv := ConvertArgs(input, output, format, fields)
	logging.Debug("Starting ffmpeg for %s with %d extra args (format %q)", displayName(input), len(fields), format)

	var stderr limitedBuffer
	cmd := exec.CommandContext(ctx, t.ffmpegPath, argv...)
	cmd.Dir = workDir
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err = t.run(kindConvert, input, cmd)
	duration := time.Since(start)
	metrics.TranscoderJobDuration.WithLabelValues(kindConvert).Observe(duration.Seconds())

	if err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues(kindConvert, "error").Inc()

		convErr := &ConversionError{ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			convErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			convErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}

		logging.Warn("ffmpeg failed for %s after %v: %v", displayName(input), duration, convErr)
		return convErr
	}

	metrics.TranscoderJobsTotal.WithLabelValues(kindConvert, "success").Inc()
	logging.Debug("ffmpeg finished for %s in %v", displayName(input), duration)
	return nil
}

// containerFormat returns the first muxer name ffprobe reports for path, or
// "" when it cannot tell.
func (t *Transcoder) containerFormat(ctx context.Context, path string) string {
	result, err := t.probe(ctx, filepath.Dir(path), path)
	if err != nil {
		logging.Debug("No container format for %s: %v", displayName(path), err)
		return ""
	}
	metrics.TranscoderJobsTotal.WithLabelValues(kindProbe, "success").Inc()
	name, _, _ := strings.Cut(result.Format.FormatName, ",")
	return strings.TrimSpace(name)
}

// run starts cmd, tracks it for Cleanup and waits for it to exit.
func (t *Transcoder) run(kind, path string, cmd *exec.Cmd) error {
	t.processMu.Lock()
	if t.stopped {
		t.processMu.Unlock()
		return ErrStopped
	}
	if err := cmd.Start(); err != nil {
		t.processMu.Unlock()
		return fmt.Errorf("failed to start %s: %w", filepath.Base(cmd.Path), err)
	}
	t.processes[cmd] = path
	t.processMu.Unlock()

	metrics.TranscoderJobsInProgress.WithLabelValues(kind).Inc()
	defer metrics.TranscoderJobsInProgress.WithLabelValues(kind).Dec()

	defer func() {
		t.processMu.Lock()
		delete(t.processes, cmd)
		t.processMu.Unlock()
	}()

	return cmd.Wait()
}

// Active returns the number of running child processes.
func (t *Transcoder) Active() int {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	return len(t.processes)
}

// Cleanup kills all running child processes and refuses new jobs.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	t.stopped = true
	for cmd, path := range t.processes {
		if cmd.Process != nil {
			logging.Info("Killing %s process for: %s", filepath.Base(cmd.Path), displayName(path))
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill process for %s: %v", displayName(path), err)
			}
		}
	}
}

// displayName shortens staging paths, whose names embed keys, for logs.
func displayName(path string) string {
	name := filepath.Base(path)
	if len(name) > 16 {
		return name[:16] + "…"
	}
	return name
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// limitedBuffer keeps the first stderrLimit bytes written to it and
// discards the rest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := stderrLimit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
