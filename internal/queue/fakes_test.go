package queue

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExtractor implements engine.Extractor with canned responses.
type fakeExtractor struct {
	mu       sync.Mutex
	probes   map[string]*engine.ProbeResult
	probeErr error
	entries  []engine.Entry
	enumErr  error

	fetchFn    func(ctx context.Context, itemURL, dir string, onLine engine.LineFunc) (string, error)
	fetchCalls int32
	fetchExt   string // extension of the file written by the default fetch
}

func (f *fakeExtractor) Probe(_ context.Context, url string) (*engine.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.probes[url]; ok {
		return p, nil
	}
	return &engine.ProbeResult{
		ItemID:      url,
		Title:       "Some Track",
		NativeCodec: "opus",
		Duration:    3 * time.Minute,
	}, nil
}

func (f *fakeExtractor) Enumerate(ctx context.Context, _ string, emit func(engine.Entry) error) error {
	for _, e := range f.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(e); err != nil {
			return err
		}
	}
	return f.enumErr
}

func (f *fakeExtractor) Fetch(ctx context.Context, itemURL, dir string, onLine engine.LineFunc) (string, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.fetchFn != nil {
		return f.fetchFn(ctx, itemURL, dir, onLine)
	}
	ext := f.fetchExt
	if ext == "" {
		ext = "webm"
	}
	return writeMedia(dir, "media."+ext)
}

func (f *fakeExtractor) calls() int {
	return int(atomic.LoadInt32(&f.fetchCalls))
}

func writeMedia(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	return p, os.WriteFile(p, []byte("audio-bytes"), 0644)
}

// fakeTranscoder implements engine.Transcoder.
type fakeTranscoder struct {
	mu      sync.Mutex
	ncalls  int
	err     error
	lines   []string // emitted through onLine before returning
	lastFmt engine.Format
	lastBps int
}

func (f *fakeTranscoder) Convert(_ context.Context, _, outputPath string, fm engine.Format, bitrateKbps int, onLine engine.LineFunc) error {
	f.mu.Lock()
	f.ncalls++
	f.lastFmt = fm
	f.lastBps = bitrateKbps
	lines := f.lines
	f.mu.Unlock()
	for _, line := range lines {
		onLine(line)
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("converted-bytes"), 0644)
}

func (f *fakeTranscoder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ncalls
}

// capture collects published events in order. Safe only for the
// single-publisher discipline a runner follows.
type capture struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *capture) publish(e events.Event) {
	c.mu.Lock()
	c.evs = append(c.evs, e)
	c.mu.Unlock()
}

func (c *capture) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.evs...)
}

func (c *capture) phases() []string {
	var out []string
	for _, e := range c.all() {
		if pc, ok := e.(events.ItemPhaseChanged); ok {
			out = append(out, pc.Phase)
		}
	}
	return out
}

func (c *capture) last() events.Event {
	evs := c.all()
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

// fakeRecorder captures terminal outcomes.
type fakeRecorder struct {
	mu   sync.Mutex
	recs []Outcome
}

func (f *fakeRecorder) Record(_ context.Context, rec Outcome) error {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecorder) all() []Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outcome(nil), f.recs...)
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Millisecond,
	}
}
