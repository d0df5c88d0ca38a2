package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/events"
	"github.com/vmunix/tonegrab/internal/resolver"
)

// eventBuffer is the per-request stream buffer. Progress events are
// dropped when the consumer lags; terminal events always get through.
const eventBuffer = 256

// Outcome is one item's terminal record, handed to the Recorder.
type Outcome struct {
	RequestID  string
	ItemID     string
	Title      string
	URL        string
	Format     string
	Phase      Phase
	OutputPath string
	Reason     string
	FinishedAt time.Time
}

// Recorder persists terminal item outcomes. Implementations must be
// safe for concurrent use. Recording is best effort: failures are
// logged and never affect the request.
type Recorder interface {
	Record(ctx context.Context, rec Outcome) error
}

// Options configures an Orchestrator.
type Options struct {
	Concurrency   int
	Retry         RetryConfig
	EngineTimeout time.Duration
	Recorder      Recorder // optional
	Log           *slog.Logger
}

// Orchestrator expands requests into per-item jobs and runs them under
// a bounded concurrency limit. One orchestrator serves many concurrent
// requests.
type Orchestrator struct {
	extractor  engine.Extractor
	transcoder engine.Transcoder
	resolver   *resolver.Resolver
	bus        *events.Bus
	opts       Options
	log        *slog.Logger

	mu       sync.Mutex
	requests map[string]*requestState
	closed   bool
	wg       sync.WaitGroup
}

// New creates an orchestrator on top of the given engine capabilities.
func New(extractor engine.Extractor, transcoder engine.Transcoder, bus *events.Bus, opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &Orchestrator{
		extractor:  extractor,
		transcoder: transcoder,
		resolver:   resolver.New(extractor, opts.Log),
		bus:        bus,
		opts:       opts,
		log:        opts.Log,
		requests:   make(map[string]*requestState),
	}
}

// Submit resolves a request and starts processing it. It fails fast on
// invalid input and on unresolvable URLs; past that point all outcomes
// arrive on the returned event channel, which closes after the
// RequestFinished event.
func (o *Orchestrator) Submit(ctx context.Context, req MediaRequest) (string, <-chan events.Event, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", nil, ErrClosed
	}
	o.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)

	res, err := o.resolver.Resolve(reqCtx, req.URL)
	if err != nil {
		cancel()
		return "", nil, err
	}

	requestID := uuid.NewString()
	rs := &requestState{
		cancel:      cancel,
		itemCancels: make(map[string]context.CancelFunc),
		active:      make(map[string]float64),
	}
	if res.Collection != nil {
		rs.total = res.Collection.Count
		rs.totalKnown = res.Collection.CountKnown
	} else {
		rs.total = 1
		rs.totalKnown = true
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return "", nil, ErrClosed
	}
	o.requests[requestID] = rs
	ch := o.bus.Open(requestID, eventBuffer)
	o.wg.Add(1)
	o.mu.Unlock()

	if res.Collection != nil {
		o.bus.Publish(events.CollectionResolved{
			BaseEvent:  events.NewBaseEvent(events.EventCollectionResolved, requestID, "", rs.nextSeq()),
			Title:      res.Collection.Title,
			Count:      res.Collection.Count,
			CountKnown: res.Collection.CountKnown,
		})
	}

	o.log.Info("request submitted",
		"request_id", requestID, "url", req.URL, "format", req.Format)

	go o.run(reqCtx, rs, requestID, req, res)
	return requestID, ch, nil
}

// run dispatches resolved items to runners and emits the request
// summary once every item has reached a terminal phase.
func (o *Orchestrator) run(ctx context.Context, rs *requestState, requestID string, req MediaRequest, res *resolver.Resolution) {
	defer o.wg.Done()

	var collectionTitle string
	if res.Collection != nil {
		collectionTitle = res.Collection.Title
	}

	publish := o.makePublish(rs, requestID)

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)

	seen := 0
	for item := range res.Items() {
		seen++
		itemCtx, itemCancel := context.WithCancel(ctx)
		rs.addItem(item.ID, itemCancel)

		r := NewRunner(RunnerConfig{
			RequestID:       requestID,
			Request:         req,
			Item:            item,
			CollectionTitle: collectionTitle,
			Extractor:       o.extractor,
			Transcoder:      o.transcoder,
			Retry:           o.opts.Retry,
			EngineTimeout:   o.opts.EngineTimeout,
			Publish:         publish,
			Log:             o.log,
		})
		r.Queued()

		g.Go(func() error {
			defer itemCancel()
			st := r.Run(itemCtx)
			rs.removeItem(st.Item.ID)
			o.record(context.WithoutCancel(ctx), requestID, req, st)
			return nil
		})
	}
	_ = g.Wait()

	enumErr := res.Err()
	if enumErr != nil && ctx.Err() == nil {
		o.log.Warn("enumeration ended early",
			"request_id", requestID, "items_seen", seen, "error", enumErr)
	}

	// Late count confirmation for incrementally enumerated collections.
	if res.Collection != nil && !rs.totalKnown && ctx.Err() == nil && enumErr == nil {
		rs.setTotal(seen)
		o.bus.Publish(events.CollectionResolved{
			BaseEvent:  events.NewBaseEvent(events.EventCollectionResolved, requestID, "", rs.nextSeq()),
			Title:      res.Collection.Title,
			Count:      seen,
			CountKnown: true,
		})
	}

	completed, failed, cancelled := rs.counts()
	outcome := events.OutcomeCompleted
	switch {
	case ctx.Err() != nil || cancelled > 0 && completed+failed == 0:
		outcome = events.OutcomeCancelled
	case failed > 0 || cancelled > 0 || enumErr != nil:
		outcome = events.OutcomeCompletedWithErrors
	}

	o.bus.Publish(events.RequestFinished{
		BaseEvent: events.NewBaseEvent(events.EventRequestFinished, requestID, "", rs.nextSeq()),
		Outcome:   outcome,
		Completed: completed,
		Failed:    failed,
		Cancelled: cancelled,
	})
	o.bus.CloseRequest(requestID)

	o.mu.Lock()
	delete(o.requests, requestID)
	o.mu.Unlock()

	rs.cancel()
	o.log.Info("request finished",
		"request_id", requestID, "outcome", outcome,
		"completed", completed, "failed", failed, "cancelled", cancelled)
}

// makePublish wraps bus publication with request-level accounting and
// aggregate progress emission.
func (o *Orchestrator) makePublish(rs *requestState, requestID string) func(events.Event) {
	return func(e events.Event) {
		o.bus.Publish(e)
		rs.observe(e)

		// Sequence allocation and publication must be atomic: a sibling
		// runner grabbing the next sequence and publishing first would
		// put aggregate events on the stream out of order. Aggregate
		// events are droppable, so Publish cannot block here.
		rs.aggMu.Lock()
		if agg, ok := rs.aggregate(); ok {
			agg.BaseEvent = events.NewBaseEvent(events.EventRequestProgressed, requestID, "", rs.nextSeq())
			o.bus.Publish(agg)
		}
		rs.aggMu.Unlock()
	}
}

func (o *Orchestrator) record(ctx context.Context, requestID string, req MediaRequest, st JobState) {
	if o.opts.Recorder == nil {
		return
	}
	rec := Outcome{
		RequestID:  requestID,
		ItemID:     st.Item.ID,
		Title:      st.Item.Title,
		URL:        st.Item.URL,
		Format:     string(req.Format),
		Phase:      st.Phase,
		OutputPath: st.OutputPath,
		FinishedAt: time.Now().UTC(),
	}
	if st.Err != nil {
		rec.Reason = st.Err.Error()
	}
	if err := o.opts.Recorder.Record(ctx, rec); err != nil {
		o.log.Warn("history record failed", "item_id", st.Item.ID, "error", err)
	}
}

// Cancel stops an in-flight request. Active items get a bounded grace
// period through their engine contexts; queued items are discarded with
// a cancelled terminal event.
func (o *Orchestrator) Cancel(requestID string) error {
	o.mu.Lock()
	rs, ok := o.requests[requestID]
	o.mu.Unlock()
	if !ok {
		return ErrRequestNotFound
	}
	rs.cancel()
	o.log.Info("request cancelled", "request_id", requestID)
	return nil
}

// CancelItem stops a single item without affecting its siblings.
func (o *Orchestrator) CancelItem(itemID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rs := range o.requests {
		if rs.cancelItem(itemID) {
			return nil
		}
	}
	return ErrItemNotFound
}

// Close rejects new submissions, cancels everything in flight, and
// waits for all requests to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, rs := range o.requests {
		rs.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// requestState is the orchestrator's book-keeping for one request.
// aggMu serializes aggregate-event emission across runner goroutines.
type requestState struct {
	cancel context.CancelFunc
	aggMu  sync.Mutex

	mu           sync.Mutex
	itemCancels  map[string]context.CancelFunc
	active       map[string]float64 // itemID -> overall item fraction
	completed    int
	failed       int
	cancelled    int
	total        int // lower bound until totalKnown
	totalKnown   bool
	seq          uint64
	lastFraction float64
	dirty        bool
}

func (rs *requestState) nextSeq() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.seq++
	return rs.seq
}

func (rs *requestState) addItem(itemID string, cancel context.CancelFunc) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.itemCancels[itemID] = cancel
	rs.active[itemID] = 0
}

func (rs *requestState) removeItem(itemID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.itemCancels, itemID)
}

func (rs *requestState) cancelItem(itemID string) bool {
	rs.mu.Lock()
	cancel, ok := rs.itemCancels[itemID]
	rs.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (rs *requestState) setTotal(n int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.total = n
	rs.totalKnown = true
}

func (rs *requestState) counts() (completed, failed, cancelled int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.completed, rs.failed, rs.cancelled
}

// observe folds one item event into the aggregate view.
func (rs *requestState) observe(e events.Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch ev := e.(type) {
	case events.ItemProgressed:
		rs.active[ev.Item] = itemFraction(Phase(ev.Phase), ev.Percent)
	case events.ItemPhaseChanged:
		rs.active[ev.Item] = itemFraction(Phase(ev.Phase), 0)
	case events.ItemCompleted:
		rs.completed++
		delete(rs.active, ev.Item)
		rs.dirty = true
	case events.ItemFailed:
		rs.failed++
		delete(rs.active, ev.Item)
		rs.dirty = true
	case events.ItemCancelled:
		rs.cancelled++
		delete(rs.active, ev.Item)
		rs.dirty = true
	}
}

// aggregate produces a RequestProgressed snapshot when the view moved
// enough to be worth reporting. The caller fills in the BaseEvent.
func (rs *requestState) aggregate() (events.RequestProgressed, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	terminal := rs.completed + rs.failed + rs.cancelled
	denom := rs.total
	if seen := terminal + len(rs.active); seen > denom {
		denom = seen
	}

	sum := float64(terminal)
	for _, f := range rs.active {
		sum += f
	}
	fraction := 0.0
	if denom > 0 {
		fraction = sum / float64(denom)
	}

	if !rs.dirty && fraction-rs.lastFraction < 0.01 {
		return events.RequestProgressed{}, false
	}
	rs.dirty = false
	rs.lastFraction = fraction

	return events.RequestProgressed{
		Completed:  rs.completed,
		Failed:     rs.failed,
		Cancelled:  rs.cancelled,
		Total:      denom,
		TotalKnown: rs.totalKnown,
		Fraction:   fraction,
	}, true
}

// itemFraction maps a phase-local percentage onto one item's overall
// completion. Fetching dominates the wall clock, so it owns most of
// the range.
func itemFraction(phase Phase, percent float64) float64 {
	switch phase {
	case PhaseFetching:
		return percent / 100 * 0.9
	case PhaseTranscoding:
		return 0.9 + percent/100*0.1
	case PhaseFinalizing:
		return 1
	default:
		return 0
	}
}
