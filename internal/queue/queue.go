// Package queue is the download orchestration core: it expands one user
// request into one or more jobs, runs them through external engines
// under a concurrency limit, and aggregates their progress into a
// single event stream.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmunix/tonegrab/internal/engine"
	"github.com/vmunix/tonegrab/internal/resolver"
)

// Sentinel errors for the queue package.
var (
	// ErrRequestNotFound is returned when cancelling an unknown request.
	ErrRequestNotFound = errors.New("request not found")

	// ErrItemNotFound is returned when cancelling an unknown item.
	ErrItemNotFound = errors.New("item not found")

	// ErrClosed is returned when submitting to a shut-down orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// MediaRequest is one user submission. Immutable once submitted.
type MediaRequest struct {
	URL         string
	Format      engine.Format
	BitrateKbps int
	Dest        string
}

// Validate checks the request before any work starts.
func (r MediaRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: empty url", resolver.ErrInvalidURL)
	}
	if _, err := engine.ParseFormat(string(r.Format)); err != nil {
		return err
	}
	if err := r.Format.ValidateBitrate(r.BitrateKbps); err != nil {
		return err
	}
	if r.Dest == "" {
		return errors.New("destination directory required")
	}
	return nil
}

// JobState is the per-item mutable state. It is mutated only by the
// JobRunner that owns the item; everyone else sees immutable event
// snapshots.
type JobState struct {
	Item       resolver.MediaItem
	Phase      Phase
	BytesDone  int64
	BytesTotal int64 // 0 until the engine reports a total
	SpeedBps   int64
	ETA        time.Duration // -1 when unknown
	Percent    float64
	OutputPath string
	Err        error // set when Phase is PhaseFailed
}

// RetryConfig bounds retries of transient fetch failures.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard fetch retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}
