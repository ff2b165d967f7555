package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"speelycaptor/internal/logging"
	"speelycaptor/internal/metrics"
)

// ErrInvalidMedia is wrapped by every Validate rejection.
var ErrInvalidMedia = errors.New("invalid media")

// probeTimeout bounds a single ffprobe run.
const probeTimeout = 30 * time.Second

// ProbeResult is the subset of ffprobe's JSON output used for validation.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one stream reported by ffprobe.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
}

// ProbeFormat describes the container reported by ffprobe.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// ProbeArgs builds the ffprobe argument vector for path.
func ProbeArgs(path string) []string {
	return []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "-i", path}
}

// Validate probes path with ffprobe, run from dir, and accepts it when it
// holds a video stream of at most the configured maximum duration. Every
// rejection wraps ErrInvalidMedia.
func (t *Transcoder) Validate(ctx context.Context, dir, path string) error {
	result, err := t.probe(ctx, dir, path)
	if err != nil {
		return err
	}

	if err := result.Check(t.maxDuration); err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues(kindProbe, "rejected").Inc()
		logging.Debug("Rejected %s: %v", displayName(path), err)
		return err
	}

	metrics.TranscoderJobsTotal.WithLabelValues(kindProbe, "success").Inc()
	logging.Debug("Valid video stream found in %s", displayName(path))
	return nil
}

// probe runs ffprobe on path from dir and decodes its report. Failures wrap
// ErrInvalidMedia and are counted; callers count the outcome otherwise.
func (t *Transcoder) probe(ctx context.Context, dir, path string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	var stderr limitedBuffer
	cmd := exec.CommandContext(ctx, t.ffprobePath, ProbeArgs(path)...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	logging.Debug("Starting ffprobe for %s", displayName(path))
	start := time.Now()
	err := t.run(kindProbe, path, cmd)
	metrics.TranscoderJobDuration.WithLabelValues(kindProbe).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues(kindProbe, "error").Inc()
		logging.Debug("ffprobe failed for %s: %v %s", displayName(path), err, strings.TrimSpace(stderr.String()))
		return ProbeResult{}, fmt.Errorf("%w: ffprobe: %w", ErrInvalidMedia, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues(kindProbe, "error").Inc()
		return ProbeResult{}, fmt.Errorf("%w: unreadable ffprobe output: %w", ErrInvalidMedia, err)
	}

	return result, nil
}

// Check reports whether r contains an acceptable video stream. A video
// stream passes when neither it nor the container reports a duration, or
// when its duration (falling back to the container's) is at most max.
func (r ProbeResult) Check(max time.Duration) error {
	limit := max.Seconds()

	for _, s := range r.Streams {
		if s.CodecType != "video" {
			continue
		}

		// Some recorders (Oculus Browser) emit streams with no duration.
		if s.Duration == "" && r.Format.Duration == "" {
			return nil
		}

		raw := s.Duration
		if raw == "" {
			raw = r.Format.Duration
		}
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if seconds <= limit {
			return nil
		}
	}

	return fmt.Errorf("%w: no valid video stream found", ErrInvalidMedia)
}
