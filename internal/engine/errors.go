package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine package.
var (
	// ErrUnsupportedSource is returned when the extractor does not
	// recognize the URL.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrUnreachable is returned when the source cannot be contacted.
	ErrUnreachable = errors.New("source unreachable")

	// ErrEngineNotFound is returned when the external tool binary cannot
	// be located.
	ErrEngineNotFound = errors.New("engine binary not found")
)

// FetchError describes a failed fetch attempt. Transient failures
// (timeouts, rate limiting) are eligible for retry; permanent ones are
// not.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Transient {
		return fmt.Sprintf("fetch failed (transient): %v", e.Err)
	}
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// TranscodeError describes a failed conversion. Transcode failures are
// deterministic and never retried.
type TranscodeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }
