// Package logger configures the global zerolog logger shared by the API
// server and the worker binaries.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance.
var Log zerolog.Logger

func init() {
	// Default to JSON output for production
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// SetLevel applies a textual level ("debug", "info", "warn", "error") to the
// global logger. Unknown values fall back to info.
func SetLevel(level string) {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	Log = Log.Level(lvl)
}

// For returns a child logger tagged with the given component name.
func For(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}
