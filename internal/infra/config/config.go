// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Logging    LoggingConfig    `yaml:"logging"`
	Playback   PlaybackConfig   `yaml:"playback"`
	StreamPing StreamPingConfig `yaml:"stream_ping"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
}

// DataConfig represents persistent storage configuration.
type DataConfig struct {
	// Dir holds the shared store database. Empty means the default
	// under the user config directory.
	Dir string `yaml:"dir"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stderr"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	TickIntervalMs     int     `yaml:"tick_interval_ms" default:"250" validate:"gte=10,lte=5000"`
	FrameIntervalMs    int     `yaml:"frame_interval_ms" default:"16" validate:"gte=1,lte=1000"`
	DefaultDurationSec float64 `yaml:"default_duration_sec" default:"3600" validate:"gt=0"`
}

// StreamPingConfig represents play counter reporting configuration.
type StreamPingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint" validate:"omitempty,url"`
	CooldownMin int    `yaml:"cooldown_min" default:"5" validate:"gte=1,lte=60"`
}

// AnalyticsConfig represents usage analytics configuration.
type AnalyticsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults apply. Environment variables take precedence over
// file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Run on defaults.
		case err != nil:
			return nil, errors.Wrap(err, "failed to read config file")
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config file")
			}
		}
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if cfg.Data.Dir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.Data.Dir = dir
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PLAYDECK_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("PLAYDECK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PLAYDECK_STREAM_PING_ENDPOINT"); v != "" {
		c.StreamPing.Endpoint = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.StreamPing.Enabled && c.StreamPing.Endpoint == "" {
		return errors.New("stream_ping.endpoint is required when stream_ping is enabled")
	}

	return nil
}

// TickInterval returns the device clock interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Playback.TickIntervalMs) * time.Millisecond
}

// FrameInterval returns the progress persistence coalescing interval.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Playback.FrameIntervalMs) * time.Millisecond
}

// StreamPingCooldown returns the per-episode ping suppression window.
func (c *Config) StreamPingCooldown() time.Duration {
	return time.Duration(c.StreamPing.CooldownMin) * time.Minute
}

// defaultDataDir resolves the per-user data directory.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve user config directory")
	}
	return filepath.Join(base, "playdeck"), nil
}
