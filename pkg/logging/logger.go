// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-request flow (method, endpoint, req_id)
//   - Worker lifecycle (jobs processed, shutdown reason)
//   - Backoff delays per retry attempt
//
// Info: Normal operation events
//   - Run start/end with configuration
//   - Page listing totals, fetch progress
//   - Batches posted
//
// Warn: Conditions that degrade but do not stop the run
//   - Retry attempts and retry exhaustion
//   - Failed detail fetches or batch posts (run continues)
//   - Records dropped by transformation
//
// Error: Conditions that abort the run
//   - Initial listing failure (nothing to process)
//   - Invalid configuration
//
// Context Fields:
//   - component: package emitting the log (client, fetch, load, pipeline)
//   - run_id: pipeline run identifier
//   - req_id: per-request identifier, stable across retries
//   - endpoint: normalized request path
//   - status: HTTP status code
//   - error_class: error classification (transport, server, rate_limit, ...)
//   - animal_id: record identifier for per-record events
//   - page / batch: ordinal of the page listed or batch posted
