package config

import (
	"fmt"

	"github.com/vmunix/tonegrab/internal/engine"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "": true,
}

// Validate checks the configuration for errors.
// Returns a slice of error messages (empty if valid).
func (c *Config) Validate() []string {
	var errs []string

	f, err := engine.ParseFormat(c.Output.Format)
	if err != nil {
		errs = append(errs, fmt.Sprintf("output.format: %v", err))
	} else if err := f.ValidateBitrate(c.Output.BitrateKbps); err != nil {
		errs = append(errs, fmt.Sprintf("output.bitrate_kbps: %v", err))
	}

	if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 8 {
		errs = append(errs, fmt.Sprintf("queue.concurrency: must be between 1 and 8, got %d", c.Queue.Concurrency))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("queue.max_attempts: must be at least 1, got %d", c.Queue.MaxAttempts))
	}

	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level: must be one of debug, info, warn, error; got %q", c.Log.Level))
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path: required when history is enabled")
	}

	return errs
}
