// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tune the logger built by NewWithOptions.
type Options struct {
	Development bool
	// Level is a zap level name such as "debug" or "warn". Empty keeps the
	// preset's default.
	Level string
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	return NewWithOptions(Options{Development: development})
}

// NewWithOptions builds a zap.Logger from opts.
func NewWithOptions(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if raw := strings.TrimSpace(opts.Level); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := cfg.Build()
	if err != nil {
		if opts.Development {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
