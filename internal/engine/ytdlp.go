package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// YtDlp is an Extractor backed by the yt-dlp tool.
type YtDlp struct {
	path  string
	grace time.Duration
	log   *slog.Logger
}

// NewYtDlp creates a yt-dlp extractor. An empty path triggers PATH
// lookup. grace is how long a cancelled invocation may take to exit
// before being killed.
func NewYtDlp(path string, grace time.Duration, log *slog.Logger) (*YtDlp, error) {
	if path == "" {
		var err error
		path, err = exec.LookPath("yt-dlp")
		if err != nil {
			return nil, fmt.Errorf("%w: yt-dlp", ErrEngineNotFound)
		}
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &YtDlp{path: path, grace: grace, log: log}, nil
}

// probeInfo is the subset of yt-dlp's -J output we care about.
type probeInfo struct {
	Type          string  `json:"_type"`
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Duration      float64 `json:"duration"`
	ACodec        string  `json:"acodec"`
	PlaylistCount int     `json:"playlist_count"`
}

// Probe queries metadata for a URL without fetching media.
func (y *YtDlp) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	args := []string{"-J", "--flat-playlist", "-I", "1", "--no-warnings", "--no-color", url}
	cmd := y.command(ctx, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.log.Debug("probing url", "url", url)
	if err := cmd.Run(); err != nil {
		return nil, classifyProbeError(stderr.String(), err)
	}

	var info probeInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	r := &ProbeResult{
		ItemID:       info.ID,
		Title:        info.Title,
		IsCollection: info.Type == "playlist",
		ChildCount:   info.PlaylistCount,
		NativeCodec:  info.ACodec,
		Duration:     time.Duration(info.Duration * float64(time.Second)),
	}
	y.log.Debug("probe complete", "id", r.ItemID, "collection", r.IsCollection, "count", r.ChildCount)
	return r, nil
}

// Enumerate streams collection members as the engine prints them, one
// tab-separated line per entry.
func (y *YtDlp) Enumerate(ctx context.Context, url string, emit func(Entry) error) error {
	args := []string{
		"--flat-playlist", "--no-warnings", "--no-color",
		"--print", "%(id)s\t%(title)s\t%(url)s\t%(duration)s",
		url,
	}
	cmd := y.command(ctx, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	var emitErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := parseEntryLine(scanner.Text())
		if !ok {
			continue
		}
		if emitErr = emit(entry); emitErr != nil {
			break
		}
	}

	if emitErr != nil {
		// Consumer stopped; tear the process down.
		_ = cmd.Process.Signal(syscall.SIGTERM)
		_ = cmd.Wait()
		return emitErr
	}
	if err := cmd.Wait(); err != nil {
		return classifyProbeError(stderr.String(), err)
	}
	return nil
}

// Fetch downloads the raw media for one item into dir and returns the
// path of the fetched file.
func (y *YtDlp) Fetch(ctx context.Context, itemURL, dir string, onLine LineFunc) (string, error) {
	template := filepath.Join(dir, "media.%(ext)s")
	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist", "--newline", "--no-warnings", "--no-color",
		"-o", template,
		itemURL,
	}
	cmd := y.command(ctx, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	streamLines(stdout, onLine)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &FetchError{Transient: isTransientOutput(stderr.String()), Err: fmt.Errorf("%s: %w", firstLine(stderr.String()), err)}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "media.*"))
	if err != nil || len(matches) == 0 {
		return "", &FetchError{Err: fmt.Errorf("fetch produced no file in %s", dir)}
	}
	return matches[0], nil
}

func (y *YtDlp) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, y.path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = y.grace
	return cmd
}

func parseEntryLine(line string) (Entry, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 3 || parts[0] == "" {
		return Entry{}, false
	}
	e := Entry{ID: parts[0], Title: parts[1], URL: parts[2]}
	if e.Title == "" || e.Title == "NA" {
		e.Title = e.ID
	}
	if len(parts) > 3 {
		if secs, err := strconv.ParseFloat(parts[3], 64); err == nil {
			e.Duration = time.Duration(secs * float64(time.Second))
		}
	}
	return e, true
}

// classifyProbeError maps yt-dlp stderr output onto the error taxonomy.
func classifyProbeError(stderr string, err error) error {
	switch {
	case strings.Contains(stderr, "Unsupported URL"),
		strings.Contains(stderr, "is not a valid URL"):
		return fmt.Errorf("%w: %s", ErrUnsupportedSource, firstLine(stderr))
	case strings.Contains(stderr, "Failed to resolve"),
		strings.Contains(stderr, "getaddrinfo"),
		strings.Contains(stderr, "Unable to download"),
		strings.Contains(stderr, "timed out"):
		return fmt.Errorf("%w: %s", ErrUnreachable, firstLine(stderr))
	default:
		return fmt.Errorf("yt-dlp: %s: %w", firstLine(stderr), err)
	}
}

// isTransientOutput reports whether stderr output indicates a failure
// worth retrying.
func isTransientOutput(stderr string) bool {
	for _, marker := range []string{
		"HTTP Error 429",
		"HTTP Error 5",
		"timed out",
		"Temporary failure",
		"Connection reset",
		"Connection refused",
		"rate-limit",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// streamLines feeds each line from r to fn until EOF.
func streamLines(r io.Reader, fn LineFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
}
