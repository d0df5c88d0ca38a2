// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Output  OutputConfig  `toml:"output"`
	Queue   QueueConfig   `toml:"queue"`
	Engines EnginesConfig `toml:"engines"`
	History HistoryConfig `toml:"history"`
	Log     LogConfig     `toml:"log"`
}

type OutputConfig struct {
	Dir         string `toml:"dir"`
	Format      string `toml:"format"`
	BitrateKbps int    `toml:"bitrate_kbps"`
}

type QueueConfig struct {
	Concurrency int      `toml:"concurrency"`
	MaxAttempts int      `toml:"max_attempts"`
	RetryDelay  Duration `toml:"retry_delay"`
	MaxDelay    Duration `toml:"max_retry_delay"`
}

type EnginesConfig struct {
	YtDlpPath  string   `toml:"ytdlp_path"`
	FFmpegPath string   `toml:"ffmpeg_path"`
	Timeout    Duration `toml:"timeout"`
	KillGrace  Duration `toml:"kill_grace"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that decodes from TOML strings like "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	content, missing := substituteEnvVars(string(data))
	if len(missing) > 0 {
		return nil, &ConfigError{Path: path, Missing: missing}
	}

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = "./downloads"
	}
	if c.Output.Format == "" {
		c.Output.Format = "mp3"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 2
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.RetryDelay.Duration == 0 {
		c.Queue.RetryDelay.Duration = time.Second
	}
	if c.Queue.MaxDelay.Duration == 0 {
		c.Queue.MaxDelay.Duration = 30 * time.Second
	}
	if c.Engines.Timeout.Duration == 0 {
		c.Engines.Timeout.Duration = 30 * time.Minute
	}
	if c.Engines.KillGrace.Duration == 0 {
		c.Engines.KillGrace.Duration = 5 * time.Second
	}
	if c.History.Path == "" {
		c.History.Path = "./data/history.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable
// values and reports the names that were not set.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(content string) (string, []string) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		missing = append(missing, varName)
		return match
	})
	return out, missing
}
