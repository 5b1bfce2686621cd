// Package logger is the global structured logger, same shape as the
// teacher's internal/logger/logger.go (a package-level zerolog.Logger,
// Init(level, pretty), WithXxx child-logger helpers) retargeted from
// worker/task fields to coprocess/thread fields.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the global logger's level and output format. pretty
// selects a human-readable console writer (for local runs); false emits
// structured JSON (for production).
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Get returns the global logger.
func Get() *zerolog.Logger {
	return &log
}

// WithComponent tags a child logger with the subsystem emitting the log
// line (e.g. "scheduler", "reactor", "bridge").
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithThread tags a child logger with the OS-thread scheduler that owns
// this log line, matching the one-scheduler-per-OS-thread model.
func WithThread(threadID string) zerolog.Logger {
	return log.With().Str("thread_id", threadID).Logger()
}

// WithCoprocess tags a child logger with the coprocess (task) this log
// line concerns.
func WithCoprocess(taskID string) zerolog.Logger {
	return log.With().Str("coprocess_id", taskID).Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
