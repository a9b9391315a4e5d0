// Package logging configures the base zerolog logger and derives
// component- and request-scoped child loggers from it.
package logging

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Init configures zerolog's global logger per the given level/format and
// returns the base logger for components to derive from.
func Init(level string, jsonFormat bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var logger zerolog.Logger
	if jsonFormat {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}

	return logger
}

// Component returns a child logger tagged with a component name, used so log
// lines can be filtered by subsystem (ingest, scraper, consensus, api, ...).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithTraceID returns a child logger carrying a request-scoped trace id,
// generating one if none is supplied.
func WithTraceID(base zerolog.Logger, traceID string) zerolog.Logger {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return base.With().Str("traceId", traceID).Logger()
}
