// Package logging configures the process-wide zerolog logger and hands
// out component-scoped child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	// Sensible default before Initialize is called (tests, library use).
	root = zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}

// Initialize sets up the root logger. level is one of trace, debug,
// info, warn, error; pretty switches to human-readable console output.
func Initialize(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	root = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// GetLogger returns a child logger tagged with the given component name.
func GetLogger(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, useful in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
