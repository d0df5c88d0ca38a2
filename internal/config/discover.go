package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath returns the XDG-compliant default config path.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "./tonegrab.toml"
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "tonegrab", "config.toml")
}

// Discover finds the config file using the standard search order.
// Search order:
//  1. TONEGRAB_CONFIG environment variable
//  2. ./tonegrab.toml (current directory)
//  3. $XDG_CONFIG_HOME/tonegrab/config.toml
//  4. /etc/tonegrab/config.toml
//
// A missing config file is not an error for the caller to surface:
// ErrNotFound lets it fall back to defaults.
func Discover() (string, error) {
	if envPath := os.Getenv("TONEGRAB_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("TONEGRAB_CONFIG=%s: %w", envPath, err)
		}
		return envPath, nil
	}

	paths := []string{
		"./tonegrab.toml",
		DefaultPath(),
		"/etc/tonegrab/config.toml",
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w, checked: %s", ErrNotFound, strings.Join(paths, ", "))
}
