// Package engine invokes the external extraction and transcode tools as
// subprocesses and exposes them behind small capability interfaces.
package engine

import (
	"context"
	"time"
)

// LineFunc receives one raw line of engine output. Lines are delivered
// from the goroutine reading the subprocess pipe; callbacks must not
// block for long.
type LineFunc func(line string)

// Entry is one member of an enumerated collection.
type Entry struct {
	ID       string
	Title    string
	URL      string
	Duration time.Duration
}

// ProbeResult is the metadata-only view of a URL.
type ProbeResult struct {
	ItemID       string
	Title        string
	IsCollection bool
	ChildCount   int // 0 when unknown until enumeration completes
	NativeCodec  string
	Duration     time.Duration
}

// Extractor probes URLs and fetches raw media.
type Extractor interface {
	// Probe queries metadata without fetching any media payload.
	Probe(ctx context.Context, url string) (*ProbeResult, error)

	// Enumerate lists collection members one at a time, calling emit for
	// each as the engine reports it. Returning an error from emit stops
	// enumeration. The sequence is finite and not restartable.
	Enumerate(ctx context.Context, url string, emit func(Entry) error) error

	// Fetch retrieves the raw media for one item into dir, streaming the
	// engine's textual output through onLine. It returns the path of the
	// fetched file.
	Fetch(ctx context.Context, itemURL, dir string, onLine LineFunc) (string, error)
}

// Transcoder converts a fetched media file into the requested format.
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath string, f Format, bitrateKbps int, onLine LineFunc) error
}
