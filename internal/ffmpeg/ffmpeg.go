// Package ffmpeg wraps the external ffmpeg binary for the two post-processing
// jobs media downloads need: normalizing images to PNG and remuxing HLS
// transport streams into MP4 containers.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/resolvarr/resolvarr/internal/config"
)

// binaryEnvVar overrides binary discovery, pointing at an explicit ffmpeg
// executable instead of searching PATH.
const binaryEnvVar = "RESOLVARR_FFMPEG_BINARY"

// Runner executes ffmpeg with a per-invocation timeout. Binary detection
// happens once and is cached for the lifetime of the Runner; a missing
// binary is not an error, it just makes Available report false so callers
// skip post-processing.
type Runner struct {
	logger *slog.Logger

	detectOnce sync.Once
	path       string
	detectErr  error
}

// NewRunner creates a Runner. Detection is deferred until first use.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// detect locates the ffmpeg binary, preferring the env override.
func (r *Runner) detect() {
	r.detectOnce.Do(func() {
		if override := os.Getenv(binaryEnvVar); override != "" {
			if _, err := os.Stat(override); err == nil {
				r.path = override
				r.logger.Debug("using ffmpeg binary from environment", slog.String("path", override))
				return
			}
			r.logger.Warn("ffmpeg binary from environment not usable, falling back to PATH",
				slog.String("path", override))
		}

		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			r.detectErr = fmt.Errorf("ffmpeg not found: %w", err)
			r.logger.Debug("ffmpeg not found, post-processing disabled")
			return
		}
		r.path = path
		r.logger.Debug("detected ffmpeg binary", slog.String("path", path))
	})
}

// Available reports whether an ffmpeg binary was found.
func (r *Runner) Available() bool {
	r.detect()
	return r.path != ""
}

// Path returns the detected ffmpeg binary path, or empty when unavailable.
func (r *Runner) Path() string {
	r.detect()
	return r.path
}

// ConvertToPNG transcodes src into a PNG at dst. Some origins ship images
// whose container ffmpeg cannot infer from the output name alone, so a
// failed first attempt is retried with the png encoder pinned.
func (r *Runner) ConvertToPNG(ctx context.Context, src, dst string) error {
	if !r.Available() {
		return fmt.Errorf("ffmpeg not available: %w", r.detectErr)
	}

	err := r.run(ctx, "-i", src, dst)
	if err == nil {
		return nil
	}
	os.Remove(dst)

	r.logger.Debug("png conversion retry with pinned encoder",
		slog.String("src", src),
		slog.String("error", err.Error()),
	)
	if err := r.run(ctx, "-i", src, "-c:v", "png", dst); err != nil {
		os.Remove(dst)
		return fmt.Errorf("converting %s to png: %w", src, err)
	}
	return nil
}

// RemuxToMP4 rewraps src into an MP4 container at dst without re-encoding.
func (r *Runner) RemuxToMP4(ctx context.Context, src, dst string) error {
	if !r.Available() {
		return fmt.Errorf("ffmpeg not available: %w", r.detectErr)
	}

	if err := r.run(ctx, "-i", src, "-c", "copy", dst); err != nil {
		os.Remove(dst)
		return fmt.Errorf("remuxing %s to mp4: %w", src, err)
	}
	return nil
}

// run executes ffmpeg with the standard preamble and the given args,
// bounded by the ffmpeg timeout. ffmpeg writes diagnostics to stderr, so
// that stream is captured for error reporting.
func (r *Runner) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultFFmpegTimeout)
	defer cancel()

	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, r.path, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", config.DefaultFFmpegTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, firstLine(msg))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
