package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger for the given environment. Debug
// output is enabled in development or when debug is set.
func NewLogger(appEnv string, debug bool) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, debug)
}

func newLogger(out io.Writer, appEnv string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" || debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger
}

// NopLogger returns a logger that discards everything. Packages use it when
// no logger is injected.
func NopLogger() *Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
