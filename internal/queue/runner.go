package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/events"
	"github.com/vmunix/tonegrab/internal/naming"
	"github.com/vmunix/tonegrab/internal/progress"
	"github.com/vmunix/tonegrab/internal/resolver"
)

// Failure kinds attached to ItemFailed events.
const (
	FailKindResolution = "resolution"
	FailKindFetch      = "fetch"
	FailKindTranscode  = "transcode"
	FailKindFilesystem = "filesystem"
)

// RunnerConfig wires one JobRunner.
type RunnerConfig struct {
	RequestID       string
	Request         MediaRequest
	Item            resolver.MediaItem
	CollectionTitle string // empty for standalone items
	Extractor       engine.Extractor
	Transcoder      engine.Transcoder
	Retry           RetryConfig
	EngineTimeout   time.Duration // per engine invocation, 0 disables
	Publish         func(events.Event)
	Log             *slog.Logger
}

// Runner drives a single media item through its lifecycle:
// resolve, fetch, transcode, finalize. It owns the item's JobState
// exclusively and reports outward only through immutable events.
type Runner struct {
	cfg    RunnerConfig
	parser *progress.Parser
	state  JobState
	seq    uint64
}

// NewRunner creates a runner for one item.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Runner{
		cfg:    cfg,
		parser: progress.NewParser(),
		state: JobState{
			Item:  cfg.Item,
			Phase: PhaseQueued,
			ETA:   -1,
		},
	}
}

// Queued announces the item on the event stream. It must be called
// before Run so the per-item sequence starts at the queued event.
func (r *Runner) Queued() {
	r.cfg.Publish(events.ItemQueued{
		BaseEvent: r.event(events.EventItemQueued),
		Title:     r.state.Item.Title,
		Ordinal:   r.state.Item.Ordinal,
	})
}

// Run executes the item to a terminal phase and returns the final
// state. Errors never escape: every failure mode ends in a terminal
// event. Run must be called at most once.
func (r *Runner) Run(ctx context.Context) JobState {
	// Queued items whose request was already cancelled never start.
	if err := ctx.Err(); err != nil {
		return r.finish(ctx, err, FailKindResolution)
	}

	if err := os.MkdirAll(r.cfg.Request.Dest, 0755); err != nil {
		return r.finish(ctx, fmt.Errorf("create destination: %w", err), FailKindFilesystem)
	}

	// Work happens in a temp dir on the same filesystem as the
	// destination so the final rename is atomic.
	workDir, err := os.MkdirTemp(r.cfg.Request.Dest, ".tonegrab-")
	if err != nil {
		return r.finish(ctx, fmt.Errorf("create work dir: %w", err), FailKindFilesystem)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	if err := r.resolve(ctx); err != nil {
		return r.finish(ctx, err, FailKindResolution)
	}

	fetched, err := r.fetch(ctx, workDir)
	if err != nil {
		return r.finish(ctx, err, FailKindFetch)
	}

	produced := fetched
	if r.needsTranscode(fetched) {
		produced, err = r.transcode(ctx, workDir, fetched)
		if err != nil {
			return r.finish(ctx, err, FailKindTranscode)
		}
	} else {
		// Passthrough: report the skipped transcode as instantly done.
		r.cfg.Log.Debug("native format matches, skipping transcode",
			"item_id", r.state.Item.ID, "codec", r.state.Item.NativeCodec)
		r.emitProgress(progress.Update{Kind: progress.KindTranscode, Percent: 100, ETA: -1, Finished: true})
	}

	if err := r.finalize(ctx, produced); err != nil {
		return r.finish(ctx, err, FailKindFilesystem)
	}

	r.transition(PhaseCompleted)
	r.cfg.Publish(events.ItemCompleted{
		BaseEvent:  r.event(events.EventItemCompleted),
		OutputPath: r.state.OutputPath,
	})
	r.cfg.Log.Info("item completed", "item_id", r.state.Item.ID, "output", r.state.OutputPath)
	return r.state
}

// resolve obtains item-specific metadata (exact stream, duration,
// native codec) when the item came from a flat collection listing.
func (r *Runner) resolve(ctx context.Context) error {
	r.transition(PhaseResolving)

	if r.state.Item.NativeCodec == "" || r.state.Item.Duration == 0 {
		probe, err := r.cfg.Extractor.Probe(ctx, r.state.Item.URL)
		if err != nil {
			return err
		}
		r.state.Item.NativeCodec = probe.NativeCodec
		if r.state.Item.Duration == 0 {
			r.state.Item.Duration = probe.Duration
		}
		if r.state.Item.Title == "" {
			r.state.Item.Title = probe.Title
		}
	}
	r.parser.SetDuration(r.state.Item.Duration)
	return nil
}

// fetch retrieves the raw media, retrying transient failures with
// exponential backoff.
func (r *Runner) fetch(ctx context.Context, dir string) (string, error) {
	r.transition(PhaseFetching)

	delay := r.cfg.Retry.Delay
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		path, err := r.fetchOnce(ctx, dir)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !engine.IsTransient(err) || attempt == r.cfg.Retry.MaxAttempts {
			break
		}

		r.cfg.Log.Warn("fetch attempt failed, retrying",
			"item_id", r.state.Item.ID, "attempt", attempt, "error", err)
		r.cleanPartials(dir)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.cfg.Retry.Multiplier)
		if delay > r.cfg.Retry.MaxDelay {
			delay = r.cfg.Retry.MaxDelay
		}
	}
	return "", lastErr
}

func (r *Runner) fetchOnce(ctx context.Context, dir string) (string, error) {
	attemptCtx := ctx
	if r.cfg.EngineTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.EngineTimeout)
		defer cancel()
	}

	path, err := r.cfg.Extractor.Fetch(attemptCtx, r.state.Item.URL, dir, r.onLine)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The invocation timed out but the job itself was not cancelled:
		// treat as transient and let the retry policy decide.
		return "", &engine.FetchError{
			Transient: true,
			Err:       fmt.Errorf("engine exceeded %s timeout", r.cfg.EngineTimeout),
		}
	}
	return path, err
}

// cleanPartials removes leftovers of a failed fetch attempt so the next
// attempt starts clean and the final glob cannot pick up partial files.
func (r *Runner) cleanPartials(dir string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "media.*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// needsTranscode reports whether the fetched file must be re-encoded.
// It is skipped only when the native codec satisfies the requested
// format, the container extension already matches, and no explicit
// bitrate was requested.
func (r *Runner) needsTranscode(fetched string) bool {
	if r.cfg.Request.BitrateKbps != 0 && r.cfg.Request.Format.Lossy() {
		return true
	}
	if !r.cfg.Request.Format.MatchesCodec(r.state.Item.NativeCodec) {
		return true
	}
	return !strings.EqualFold(filepath.Ext(fetched), "."+r.cfg.Request.Format.Ext())
}

func (r *Runner) transcode(ctx context.Context, dir, input string) (string, error) {
	r.transition(PhaseTranscoding)

	attemptCtx := ctx
	if r.cfg.EngineTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.EngineTimeout)
		defer cancel()
	}

	out := filepath.Join(dir, "output."+r.cfg.Request.Format.Ext())
	err := r.cfg.Transcoder.Convert(attemptCtx, input, out, r.cfg.Request.Format, r.cfg.Request.BitrateKbps, r.onLine)
	if err != nil {
		return "", err
	}
	return out, nil
}

// finalize moves the produced file into the destination atomically:
// the work dir lives under the destination root, so rename cannot
// cross filesystems.
func (r *Runner) finalize(ctx context.Context, produced string) error {
	r.transition(PhaseFinalizing)

	if err := ctx.Err(); err != nil {
		return err
	}

	final := naming.ItemPath(r.cfg.Request.Dest, r.cfg.CollectionTitle, r.state.Item.Title, r.state.Item.Ordinal, r.cfg.Request.Format.Ext())
	if err := naming.ValidatePath(final, r.cfg.Request.Dest); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	final = naming.EnsureUnique(final)

	if err := os.Rename(produced, final); err != nil {
		return fmt.Errorf("move into destination: %w", err)
	}
	r.state.OutputPath = final
	return nil
}

// finish handles any terminal outcome other than success. Cancellation
// is distinguished from failure by the context.
func (r *Runner) finish(ctx context.Context, err error, kind string) JobState {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		r.transition(PhaseCancelled)
		r.cfg.Publish(events.ItemCancelled{BaseEvent: r.event(events.EventItemCancelled)})
		r.cfg.Log.Info("item cancelled", "item_id", r.state.Item.ID)
		return r.state
	}

	r.state.Err = err
	r.transition(PhaseFailed)
	r.cfg.Publish(events.ItemFailed{
		BaseEvent: r.event(events.EventItemFailed),
		Kind:      kind,
		Reason:    err.Error(),
	})
	r.cfg.Log.Error("item failed", "item_id", r.state.Item.ID, "kind", kind, "error", err)
	return r.state
}

// transition advances the state machine. An invalid transition is a
// programming defect, not a runtime condition, and panics.
func (r *Runner) transition(to Phase) {
	if !r.state.Phase.CanTransitionTo(to) {
		panic(fmt.Sprintf("invalid phase transition %s -> %s for item %s", r.state.Phase, to, r.state.Item.ID))
	}
	r.state.Phase = to

	if !to.IsTerminal() {
		r.cfg.Publish(events.ItemPhaseChanged{
			BaseEvent: r.event(events.EventItemPhaseChanged),
			Phase:     string(to),
		})
	}
}

// onLine receives raw engine output while the runner blocks in an
// engine call. Unparseable lines are ignored; they must never abort
// the job.
func (r *Runner) onLine(line string) {
	u, ok := r.parser.Parse(line)
	if !ok {
		return
	}
	r.emitProgress(u)
}

func (r *Runner) emitProgress(u progress.Update) {
	switch u.Kind {
	case progress.KindTranscode:
		// Output bytes written bear no relation to the fetch totals, and
		// a lossless target can exceed them. Totals reset to unknown so
		// bytes_done never overtakes a stale bytes_total.
		r.state.BytesDone = u.BytesDone
		r.state.BytesTotal = 0
	default:
		if u.BytesDone > 0 {
			r.state.BytesDone = u.BytesDone
		}
		if u.BytesTotal > 0 {
			r.state.BytesTotal = u.BytesTotal
		}
	}
	r.state.SpeedBps = u.SpeedBps
	r.state.ETA = u.ETA
	r.state.Percent = u.Percent

	r.cfg.Publish(events.ItemProgressed{
		BaseEvent:  r.event(events.EventItemProgressed),
		Phase:      string(r.state.Phase),
		BytesDone:  r.state.BytesDone,
		BytesTotal: r.state.BytesTotal,
		SpeedBps:   u.SpeedBps,
		ETASeconds: etaSeconds(u.ETA),
		Percent:    u.Percent,
	})
}

func (r *Runner) event(eventType string) events.BaseEvent {
	r.seq++
	return events.NewBaseEvent(eventType, r.cfg.RequestID, r.state.Item.ID, r.seq)
}

func etaSeconds(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Second)
}
