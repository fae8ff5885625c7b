// Package config loads the engine's runtime configuration with
// file -> environment -> flag precedence, the same layering
// kailas-cloud-vecdex's config package uses, adapted to this engine's
// much smaller surface: storage location, vector dimension, HTTP
// listen address, logging, and the ingest rate limiter.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of values a running engine needs. Default()
// supplies the base values; LoadFile overlays a YAML file on them, and
// ApplyEnv and the flag overrides in main are applied on top.
type Config struct {
	Addr    string        `yaml:"addr"`
	DataDir string        `yaml:"data_dir"`
	Dim     int           `yaml:"dim"`
	Log     LoggingConfig `yaml:"logging"`
	Rate    RateConfig    `yaml:"rate_limit"`
}

// LoggingConfig controls the zap logger built by observability.NewLogger.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // "prod", "dev", "local", "test" (empty means dev)
	Level string `yaml:"level"` // optional override: debug, info, warn, error
}

// RateConfig controls the token-bucket limiter guarding ingest routes.
type RateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the reference configuration used when no file, env
// var, or flag overrides a field.
func Default() Config {
	return Config{
		Addr:    ":8080",
		DataDir: "./data",
		Dim:     768,
		Log:     LoggingConfig{Env: "prod"},
		Rate:    RateConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// LoadFile reads a YAML config file and overlays it onto Default().
// An empty path is not an error: callers that pass an empty path (no
// -config flag given) get the defaults untouched. A non-empty path to a
// file that cannot be read is an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays process environment variables onto cfg, taking
// precedence over the file but yielding to any later flag override.
// VOX_DIM and VOX_DATA_DIR mirror the flags the external CLI contract
// already exposes (-dim, -data), so an operator can pin either one
// without touching the invoking command line.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("VOX_DIM"); v != "" {
		if dim, err := parsePositiveInt(v); err == nil {
			c.Dim = dim
		}
	}
	if v := os.Getenv("VOX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VOX_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("VOX_LOG_ENV"); v != "" {
		c.Log.Env = v
	}
	return c
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}

// Validate reports whether cfg is runnable.
func (c Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Rate.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}
	return nil
}
