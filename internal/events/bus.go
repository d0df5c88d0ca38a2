package events

import (
	"log/slog"
	"sync"
)

// Bus routes events to per-request subscriber streams. Each request has
// a single consumer; events for one item are delivered in publish order.
// Progress events are dropped when the consumer falls behind; terminal
// events always block until delivered so the last event for an item is
// never lost.
type Bus struct {
	mu      sync.Mutex
	streams map[string]chan Event
	logger  *slog.Logger
	closed  bool
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		streams: make(map[string]chan Event),
		logger:  logger,
	}
}

// Open creates the event stream for a request. It must be called once
// per request before any Publish for it.
func (b *Bus) Open(requestID string, bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	b.streams[requestID] = ch
	return ch
}

// Publish routes an event to its request's stream.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	ch, ok := b.streams[e.RequestID()]
	closed := b.closed
	b.mu.Unlock()

	if !ok || closed {
		return
	}

	if e.Terminal() {
		ch <- e
		return
	}

	select {
	case ch <- e:
	default:
		b.logger.Debug("subscriber behind, dropping progress event",
			"type", e.EventType(),
			"item_id", e.ItemID())
	}
}

// CloseRequest closes a request's stream after its terminal summary has
// been published. The consumer sees remaining buffered events, then the
// channel closes.
func (b *Bus) CloseRequest(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.streams[requestID]; ok {
		close(ch)
		delete(b.streams, requestID)
	}
}

// Close shuts down the bus and closes all remaining streams.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, ch := range b.streams {
		close(ch)
		delete(b.streams, id)
	}
	return nil
}
