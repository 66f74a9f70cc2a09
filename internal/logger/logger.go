// Package logger wraps zerolog behind a process-wide default logger.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default JSON logger writing to stdout.
// Safe to call more than once; only the first call takes effect.
func Init(level string) {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		defaultLogger = zerolog.New(os.Stdout).
			Level(parseLevel(level)).
			With().Timestamp().Logger()
	})
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the initialized default logger.
func Get() zerolog.Logger {
	Init("info")
	return defaultLogger
}

// With returns a child logger carrying a constant string field, used to
// bind run/entry context once instead of repeating it per event.
func With(key, value string) zerolog.Logger {
	return Get().With().Str(key, value).Logger()
}

// Info logs an informational message with alternating key/value fields.
func Info(msg string, kv ...any) { log := Get(); emit(log.Info(), msg, kv) }

// Warn logs a warning message with alternating key/value fields.
func Warn(msg string, kv ...any) { log := Get(); emit(log.Warn(), msg, kv) }

// Debug logs a debug message with alternating key/value fields.
func Debug(msg string, kv ...any) { log := Get(); emit(log.Debug(), msg, kv) }

// Error logs an error with alternating key/value fields.
func Error(msg string, err error, kv ...any) {
	log := Get()
	ev := log.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	emit(ev, msg, kv)
}

func emit(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
