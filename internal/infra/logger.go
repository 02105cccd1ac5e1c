package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the process logger. Development gets a console writer
// at debug level, everything else emits JSON lines at info level.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger so provider packages can accept a logger
// without importing the third-party module directly.
type Logger = zerolog.Logger

// DiscardLogger returns a logger that drops everything. Clients fall back to it
// when no logger is supplied.
func DiscardLogger() Logger {
	return zerolog.New(io.Discard)
}

// LoggerOrDiscard dereferences l, or returns a discarding logger when l is nil.
func LoggerOrDiscard(l *Logger) Logger {
	if l == nil {
		return DiscardLogger()
	}
	return *l
}
