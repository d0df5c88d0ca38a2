package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// FFmpeg is a Transcoder backed by the ffmpeg tool.
type FFmpeg struct {
	path  string
	grace time.Duration
	log   *slog.Logger
}

// NewFFmpeg creates an ffmpeg transcoder. An empty path triggers PATH
// lookup.
func NewFFmpeg(path string, grace time.Duration, log *slog.Logger) (*FFmpeg, error) {
	if path == "" {
		var err error
		path, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg", ErrEngineNotFound)
		}
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{path: path, grace: grace, log: log}, nil
}

// Convert transcodes inputPath into outputPath, streaming ffmpeg's
// key=value progress lines (-progress pipe:1) through onLine.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string, format Format, bitrateKbps int, onLine LineFunc) error {
	args := []string{
		"-y", "-hide_banner", "-nostats", "-loglevel", "error",
		"-progress", "pipe:1",
		"-i", inputPath,
		"-vn",
		"-acodec", format.Codec(),
	}
	if format.Lossy() {
		if bitrateKbps <= 0 {
			bitrateKbps = DefaultBitrate
		}
		args = append(args, "-b:a", fmt.Sprintf("%dk", bitrateKbps))
	}
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = f.grace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	f.log.Debug("transcoding", "input", inputPath, "format", format, "bitrate_kbps", bitrateKbps)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	streamLines(stdout, onLine)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &TranscodeError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      fmt.Errorf("%s: %w", firstLine(stderr.String()), err),
		}
	}
	return nil
}
