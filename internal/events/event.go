// Package events defines the lifecycle/progress event stream flowing
// from the orchestrator to observers.
package events

import "time"

// Event is the base interface all events implement.
type Event interface {
	EventType() string
	RequestID() string
	ItemID() string // empty for request-level events
	Sequence() uint64
	OccurredAt() time.Time
	// Terminal reports whether this is the final event for its item or
	// request. Terminal events are never dropped.
	Terminal() bool
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type      string    `json:"type"`
	Request   string    `json:"request_id"`
	Item      string    `json:"item_id,omitempty"`
	Seq       uint64    `json:"sequence"`
	Timestamp time.Time `json:"occurred_at"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) RequestID() string     { return e.Request }
func (e BaseEvent) ItemID() string        { return e.Item }
func (e BaseEvent) Sequence() uint64      { return e.Seq }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) Terminal() bool        { return false }

// NewBaseEvent creates a BaseEvent with the current timestamp.
func NewBaseEvent(eventType, requestID, itemID string, seq uint64) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Request:   requestID,
		Item:      itemID,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}
