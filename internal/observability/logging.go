// Package observability builds the process loggers.
//
// Two profiles exist: STRUCTURED emits JSON for log shipping and is the
// default for the server, CONSOLE emits human-readable lines for interactive
// CLI runs. Level and profile come from configuration.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger constructs the process logger for the given level ("debug",
// "info", "warn", "error") and profile ("STRUCTURED" or "CONSOLE").
func NewLogger(level, profile string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToUpper(profile) {
	case "", "STRUCTURED":
		cfg = zap.NewProductionConfig()
	case "CONSOLE":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// NewCLILogger builds the logger for command output: console encoding, no
// timestamps or caller noise, so output reads like plain text while still
// carrying structured fields when present.
func NewCLILogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.CallerKey = ""
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build cli logger: %w", err)
	}
	return logger, nil
}
