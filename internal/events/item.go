package events

// Event type constants
const (
	EventCollectionResolved = "collection.resolved"
	EventItemQueued         = "item.queued"
	EventItemPhaseChanged   = "item.phase.changed"
	EventItemProgressed     = "item.progressed"
	EventRequestProgressed  = "request.progressed"
	EventItemCompleted      = "item.completed"
	EventItemFailed         = "item.failed"
	EventItemCancelled      = "item.cancelled"
	EventRequestFinished    = "request.finished"
)

// Request outcome constants for RequestFinished.
const (
	OutcomeCompleted           = "completed"
	OutcomeCompletedWithErrors = "completed_with_errors"
	OutcomeCancelled           = "cancelled"
)

// CollectionResolved is emitted when resolution of a URL finishes or,
// for incremental enumeration, when the total becomes known. CountKnown
// is false while items are still being enumerated; Count is then the
// "at least" lower bound.
type CollectionResolved struct {
	BaseEvent
	Title      string `json:"title"`
	Count      int    `json:"count"`
	CountKnown bool   `json:"count_known"`
}

// ItemQueued is emitted when an item enters the pending queue.
type ItemQueued struct {
	BaseEvent
	Title   string `json:"title"`
	Ordinal int    `json:"ordinal"`
}

// ItemPhaseChanged is emitted on every state machine transition.
type ItemPhaseChanged struct {
	BaseEvent
	Phase string `json:"phase"`
}

// ItemProgressed is emitted with per-item progress. BytesTotal is 0
// when the engine has not reported a total yet; ETASeconds is -1 when
// unknown.
type ItemProgressed struct {
	BaseEvent
	Phase      string  `json:"phase"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total,omitempty"`
	SpeedBps   int64   `json:"speed_bps,omitempty"`
	ETASeconds int     `json:"eta_seconds"`
	Percent    float64 `json:"percent"`
}

// RequestProgressed is the aggregate progress view across all items of
// a request. Total is a lower bound while TotalKnown is false. Fraction
// is overall completion in [0, 1] counting fractional progress of
// active items.
type RequestProgressed struct {
	BaseEvent
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Cancelled  int     `json:"cancelled"`
	Total      int     `json:"total"`
	TotalKnown bool    `json:"total_known"`
	Fraction   float64 `json:"fraction"`
}

// ItemCompleted is the terminal event for a successful item.
type ItemCompleted struct {
	BaseEvent
	OutputPath string `json:"output_path"`
}

func (ItemCompleted) Terminal() bool { return true }

// ItemFailed is the terminal event for a failed item.
type ItemFailed struct {
	BaseEvent
	Kind   string `json:"kind"` // resolution, fetch, transcode, filesystem
	Reason string `json:"reason"`
}

func (ItemFailed) Terminal() bool { return true }

// ItemCancelled is the terminal event for a cancelled item.
type ItemCancelled struct {
	BaseEvent
}

func (ItemCancelled) Terminal() bool { return true }

// RequestFinished is the terminal summary event for a whole request.
type RequestFinished struct {
	BaseEvent
	Outcome   string `json:"outcome"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

func (RequestFinished) Terminal() bool { return true }
