// Package logging provides the structured logger shared by every
// package in this server, wrapping zerolog the way the rest of this
// codebase's ancestry does: leveled, component-tagged, mirrored to a
// console writer and a log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	// Dir is the directory log files are written to. Empty disables
	// file logging (console only).
	Dir string
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string
	// Console, if true, also writes a human-readable stream to stderr.
	Console bool
}

// Logger is a leveled, component-tagged logger. Every package in this
// server takes one of these instead of reaching for the global
// `log` package or a bare zerolog.Logger.
type Logger struct {
	base zerolog.Logger
}

// New builds a Logger from Config. A missing or unwritable Dir falls
// back to console-only logging rather than failing startup.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	var writers []io.Writer
	if cfg.Console || cfg.Dir == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err == nil {
			name := fmt.Sprintf("audio-server-%s.log", time.Now().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err == nil {
				writers = append(writers, f)
			}
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	base := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &Logger{base: base}, nil
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) event(e *zerolog.Event, component, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// Debug logs at debug level, tagged with the emitting component. Safe
// to call on a nil *Logger (a no-op), so callers never need to guard
// an optional logging.Logger field before using it.
func (l *Logger) Debug(component, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.event(l.base.Debug(), component, msg, fields)
}

// Info logs at info level, tagged with the emitting component. Safe
// to call on a nil *Logger.
func (l *Logger) Info(component, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.event(l.base.Info(), component, msg, fields)
}

// Warn logs at warn level, tagged with the emitting component. Safe
// to call on a nil *Logger.
func (l *Logger) Warn(component, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.event(l.base.Warn(), component, msg, fields)
}

// Error logs at error level, tagged with the emitting component. Safe
// to call on a nil *Logger.
func (l *Logger) Error(component, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.event(l.base.Error(), component, msg, fields)
}

// Component returns a raw zerolog.Logger pre-tagged with component,
// an escape hatch for call sites that want zerolog's fluent API
// directly instead of the fields-map convenience methods above.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.base.With().Str("component", name).Logger()
}

// NoOp returns a Logger that discards everything, for tests and
// callers that don't want to wire a real sink.
func NoOp() *Logger {
	return &Logger{base: zerolog.New(io.Discard)}
}
