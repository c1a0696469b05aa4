// Package logging configures the process-wide zerolog logger and
// hands out component child loggers, matching the structured-logging
// idiom used throughout the teacher codebase.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log sink's on-wire representation.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config configures the base logger.
type Config struct {
	Level       string
	Format      Format
	ServiceName string
	Output      io.Writer
}

// New builds the base logger for the process. Component loggers
// should be derived from it with With().
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	return logger
}

// Component returns a child logger tagged with the given component
// name, mirroring the teacher's per-subsystem log fields.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
