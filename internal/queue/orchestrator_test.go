package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/events"
	"github.com/vmunix/tonegrab/internal/resolver"
)

const playlistURL = "https://example.com/playlist?list=pl-1"

func playlistExtractor(n int) *fakeExtractor {
	ext := &fakeExtractor{
		probes: map[string]*engine.ProbeResult{
			playlistURL: {
				ItemID: "pl-1", Title: "Mix Tape", IsCollection: true, ChildCount: n,
			},
		},
	}
	for i := 1; i <= n; i++ {
		ext.entries = append(ext.entries, engine.Entry{
			ID:    fmt.Sprintf("item-%d", i),
			Title: fmt.Sprintf("Track %d", i),
			URL:   fmt.Sprintf("https://example.com/watch?v=item-%d", i),
		})
	}
	return ext
}

func newTestOrchestrator(ext *fakeExtractor, tr *fakeTranscoder, opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = testLogger()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry()
	}
	return New(ext, tr, events.NewBus(opts.Log), opts)
}

// drain consumes the full event stream of one request.
func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func terminalItemEvents(evs []events.Event) (completed, failed, cancelled int) {
	for _, e := range evs {
		switch e.(type) {
		case events.ItemCompleted:
			completed++
		case events.ItemFailed:
			failed++
		case events.ItemCancelled:
			cancelled++
		}
	}
	return
}

func finishedEvent(t *testing.T, evs []events.Event) events.RequestFinished {
	t.Helper()
	if len(evs) == 0 {
		t.Fatal("no events")
	}
	fin, ok := evs[len(evs)-1].(events.RequestFinished)
	if !ok {
		t.Fatalf("last event = %T, want RequestFinished", evs[len(evs)-1])
	}
	return fin
}

func TestOrchestratorPlaylist(t *testing.T) {
	o := newTestOrchestrator(playlistExtractor(3), &fakeTranscoder{}, Options{Concurrency: 2})
	defer o.Close()

	id, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty request id")
	}

	evs := drain(t, ch)

	cr, ok := evs[0].(events.CollectionResolved)
	if !ok {
		t.Fatalf("first event = %T, want CollectionResolved", evs[0])
	}
	if cr.Count != 3 || !cr.CountKnown {
		t.Errorf("collection count = %d known=%v, want 3 known", cr.Count, cr.CountKnown)
	}

	completed, failed, cancelled := terminalItemEvents(evs)
	if completed != 3 || failed != 0 || cancelled != 0 {
		t.Errorf("terminal events = %d/%d/%d, want 3/0/0", completed, failed, cancelled)
	}

	fin := finishedEvent(t, evs)
	if fin.Outcome != events.OutcomeCompleted {
		t.Errorf("outcome = %s, want %s", fin.Outcome, events.OutcomeCompleted)
	}
	if fin.Completed != 3 {
		t.Errorf("finished completed = %d, want 3", fin.Completed)
	}
}

func TestOrchestratorStandalone(t *testing.T) {
	o := newTestOrchestrator(&fakeExtractor{}, &fakeTranscoder{}, Options{Concurrency: 1})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: "https://example.com/watch?v=one", Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	evs := drain(t, ch)
	for _, e := range evs {
		if _, ok := e.(events.CollectionResolved); ok {
			t.Error("CollectionResolved emitted for standalone item")
		}
	}
	completed, _, _ := terminalItemEvents(evs)
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
	if fin := finishedEvent(t, evs); fin.Outcome != events.OutcomeCompleted {
		t.Errorf("outcome = %s, want %s", fin.Outcome, events.OutcomeCompleted)
	}
}

func TestOrchestratorConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0

	ext := playlistExtractor(4)
	ext.fetchFn = func(_ context.Context, _, dir string, _ engine.LineFunc) (string, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return writeMedia(dir, "media.webm")
	}

	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{Concurrency: 2})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, ch)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrent fetches = %d, want <= 2", peak)
	}
	if peak < 2 {
		t.Errorf("peak concurrent fetches = %d, want 2 with 4 items", peak)
	}
}

func TestOrchestratorFailureIsolation(t *testing.T) {
	ext := playlistExtractor(3)
	ext.fetchFn = func(_ context.Context, itemURL, dir string, _ engine.LineFunc) (string, error) {
		if itemURL == "https://example.com/watch?v=item-2" {
			return "", &engine.FetchError{Err: errors.New("video unavailable")}
		}
		return writeMedia(dir, "media.webm")
	}

	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{Concurrency: 2})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	evs := drain(t, ch)
	completed, failed, cancelled := terminalItemEvents(evs)
	if completed != 2 || failed != 1 || cancelled != 0 {
		t.Errorf("terminal events = %d/%d/%d, want 2/1/0", completed, failed, cancelled)
	}

	fin := finishedEvent(t, evs)
	if fin.Outcome != events.OutcomeCompletedWithErrors {
		t.Errorf("outcome = %s, want %s", fin.Outcome, events.OutcomeCompletedWithErrors)
	}
	if fin.Completed != 2 || fin.Failed != 1 {
		t.Errorf("finished = %d completed / %d failed, want 2/1", fin.Completed, fin.Failed)
	}
}

func TestOrchestratorCancelMidway(t *testing.T) {
	var fetches int32
	ext := playlistExtractor(10)
	ext.fetchFn = func(ctx context.Context, _, dir string, _ engine.LineFunc) (string, error) {
		if atomic.AddInt32(&fetches, 1) <= 3 {
			return writeMedia(dir, "media.webm")
		}
		<-ctx.Done()
		return "", ctx.Err()
	}

	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{Concurrency: 2})
	defer o.Close()

	id, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var evs []events.Event
	completedSeen := 0
	timeout := time.After(10 * time.Second)
	for {
		var e events.Event
		var ok bool
		select {
		case e, ok = <-ch:
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(evs))
		}
		if !ok {
			break
		}
		evs = append(evs, e)
		if _, isDone := e.(events.ItemCompleted); isDone {
			completedSeen++
			if completedSeen == 3 {
				if err := o.Cancel(id); err != nil {
					t.Fatalf("cancel: %v", err)
				}
			}
		}
	}

	completed, failed, cancelled := terminalItemEvents(evs)
	if completed != 3 || failed != 0 || cancelled != 7 {
		t.Errorf("terminal events = %d/%d/%d, want 3/0/7", completed, failed, cancelled)
	}

	fin := finishedEvent(t, evs)
	if fin.Outcome != events.OutcomeCancelled {
		t.Errorf("outcome = %s, want %s", fin.Outcome, events.OutcomeCancelled)
	}
	if fin.Completed != 3 || fin.Cancelled != 7 {
		t.Errorf("finished = %d completed / %d cancelled, want 3/7", fin.Completed, fin.Cancelled)
	}
}

func TestOrchestratorCancelUnknownRequest(t *testing.T) {
	o := newTestOrchestrator(&fakeExtractor{}, &fakeTranscoder{}, Options{})
	defer o.Close()

	if err := o.Cancel("nope"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("err = %v, want ErrRequestNotFound", err)
	}
	if err := o.CancelItem("nope"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
}

func TestOrchestratorSubmitInvalidURL(t *testing.T) {
	o := newTestOrchestrator(&fakeExtractor{}, &fakeTranscoder{}, Options{})
	defer o.Close()

	_, _, err := o.Submit(context.Background(), MediaRequest{
		URL: "ftp://example.com/file", Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if !errors.Is(err, resolver.ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestOrchestratorSubmitUnsupportedSource(t *testing.T) {
	ext := &fakeExtractor{probeErr: engine.ErrUnsupportedSource}
	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{})
	defer o.Close()

	_, _, err := o.Submit(context.Background(), MediaRequest{
		URL: "https://example.com/watch?v=x", Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if !errors.Is(err, engine.ErrUnsupportedSource) {
		t.Errorf("err = %v, want ErrUnsupportedSource", err)
	}
}

func TestOrchestratorSequencePerItem(t *testing.T) {
	o := newTestOrchestrator(playlistExtractor(3), &fakeTranscoder{}, Options{Concurrency: 2})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	last := make(map[string]uint64)
	for _, e := range drain(t, ch) {
		key := e.ItemID()
		if e.Sequence() <= last[key] {
			t.Errorf("item %q: sequence %d not greater than %d (%s)", key, e.Sequence(), last[key], e.EventType())
		}
		last[key] = e.Sequence()
	}
}

func TestOrchestratorAggregateSequenceUnderLoad(t *testing.T) {
	ext := playlistExtractor(16)
	ext.fetchFn = func(_ context.Context, _, dir string, onLine engine.LineFunc) (string, error) {
		// Frequent progress keeps many runners emitting aggregates at once.
		for pct := 10; pct <= 100; pct += 10 {
			onLine(fmt.Sprintf("[download]  %d.0%% of 10.00MiB at 1.00MiB/s ETA 00:05", pct))
		}
		return writeMedia(dir, "media.webm")
	}

	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{Concurrency: 8})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var lastSeq uint64
	var lastFraction float64
	for _, e := range drain(t, ch) {
		if e.ItemID() != "" {
			continue
		}
		if e.Sequence() <= lastSeq {
			t.Fatalf("request event %s: sequence %d not greater than %d", e.EventType(), e.Sequence(), lastSeq)
		}
		lastSeq = e.Sequence()
		if agg, ok := e.(events.RequestProgressed); ok {
			if agg.Fraction < lastFraction {
				t.Errorf("aggregate fraction regressed from %.3f to %.3f", lastFraction, agg.Fraction)
			}
			lastFraction = agg.Fraction
		}
	}
}

func TestOrchestratorRecordsOutcomes(t *testing.T) {
	ext := playlistExtractor(2)
	ext.fetchFn = func(_ context.Context, itemURL, dir string, _ engine.LineFunc) (string, error) {
		if itemURL == "https://example.com/watch?v=item-2" {
			return "", &engine.FetchError{Err: errors.New("gone")}
		}
		return writeMedia(dir, "media.webm")
	}
	rec := &fakeRecorder{}

	o := newTestOrchestrator(ext, &fakeTranscoder{}, Options{Concurrency: 1, Recorder: rec})
	defer o.Close()

	_, ch, err := o.Submit(context.Background(), MediaRequest{
		URL: playlistURL, Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, ch)

	recs := rec.all()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	byPhase := map[Phase]int{}
	for _, r := range recs {
		byPhase[r.Phase]++
		if r.Format != "mp3" {
			t.Errorf("record format = %s, want mp3", r.Format)
		}
	}
	if byPhase[PhaseCompleted] != 1 || byPhase[PhaseFailed] != 1 {
		t.Errorf("record phases = %v, want one completed and one failed", byPhase)
	}
}

func TestOrchestratorClosedRejectsSubmit(t *testing.T) {
	o := newTestOrchestrator(&fakeExtractor{}, &fakeTranscoder{}, Options{})
	o.Close()

	_, _, err := o.Submit(context.Background(), MediaRequest{
		URL: "https://example.com/watch?v=x", Format: engine.FormatMP3, Dest: t.TempDir(),
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
