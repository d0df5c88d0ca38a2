// Package resolver expands a submitted URL into one or more media items
// via a metadata-only probe, without fetching any media payload.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vmunix/tonegrab/internal/engine"
)

// ErrInvalidURL is returned for input that is not an http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// MediaItem is one resolvable unit of work. Immutable after creation.
type MediaItem struct {
	ID           string
	Title        string
	URL          string
	Ordinal      int    // 1-based position within its collection, 0 if standalone
	CollectionID string // empty if standalone
	Duration     time.Duration
	NativeCodec  string // known only when the item was probed directly
}

// Collection groups the items resolved from one playlist URL.
type Collection struct {
	ID         string
	Title      string
	Count      int  // lower bound until CountKnown
	CountKnown bool // false while enumeration is still incremental
}

// Resolution is the outcome of resolving one URL: either a standalone
// item or a collection whose members arrive lazily on Items. The
// sequence is finite and not restartable. After Items closes, Err
// reports whether enumeration finished cleanly.
type Resolution struct {
	Collection *Collection // nil for a standalone item

	items chan MediaItem
	err   error
	done  chan struct{}
}

// Items returns the lazy sequence of resolved items.
func (r *Resolution) Items() <-chan MediaItem { return r.items }

// Err reports whether enumeration finished cleanly. It blocks until
// enumeration is done, which is immediate once Items has closed.
func (r *Resolution) Err() error {
	<-r.done
	return r.err
}

// Resolver turns URLs into Resolutions using the Extractor capability.
type Resolver struct {
	extractor engine.Extractor
	log       *slog.Logger
}

// New creates a resolver.
func New(extractor engine.Extractor, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{extractor: extractor, log: log}
}

// Resolve probes a URL and produces its item sequence. It fails fast on
// malformed input and on unsupported/unreachable sources; enumeration
// errors past that point surface through Resolution.Err.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Resolution, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	probe, err := r.extractor.Probe(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}

	res := &Resolution{
		items: make(chan MediaItem, 16),
		done:  make(chan struct{}),
	}

	if !probe.IsCollection {
		id := probe.ItemID
		if id == "" {
			id = rawURL
		}
		res.items <- MediaItem{
			ID:          id,
			Title:       probe.Title,
			URL:         rawURL,
			Duration:    probe.Duration,
			NativeCodec: probe.NativeCodec,
		}
		close(res.items)
		close(res.done)
		r.log.Debug("resolved single item", "id", id, "title", probe.Title)
		return res, nil
	}

	res.Collection = &Collection{
		ID:         probe.ItemID,
		Title:      probe.Title,
		Count:      probe.ChildCount,
		CountKnown: probe.ChildCount > 0,
	}

	go func() {
		defer close(res.done)
		defer close(res.items)

		ordinal := 0
		err := r.extractor.Enumerate(ctx, rawURL, func(e engine.Entry) error {
			ordinal++
			item := MediaItem{
				ID:           e.ID,
				Title:        e.Title,
				URL:          e.URL,
				Ordinal:      ordinal,
				CollectionID: res.Collection.ID,
				Duration:     e.Duration,
			}
			select {
			case res.items <- item:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			res.err = fmt.Errorf("enumerate %s: %w", rawURL, err)
		}
		r.log.Debug("enumeration finished", "collection", res.Collection.ID, "items", ordinal, "error", err)
	}()

	return res, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}
