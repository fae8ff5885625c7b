// Package observability wires the ambient logging and metrics stack
// shared by storage, index, engine, and api: a zap logger and a small
// set of Prometheus collectors.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger for the given environment. "prod" gets
// JSON output; "", "local", "dev" and "test" get zap's development
// console output; any other value is an error. levelOverride, if
// non-empty, overrides the configured level (debug, info, warn, error).
func NewLogger(env, levelOverride string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
	case "", "local", "dev", "test":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log environment %q", env)
	}

	if levelOverride != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(levelOverride)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", levelOverride, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
