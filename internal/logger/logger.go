// Package logger wraps charmbracelet/log behind a small interface so the
// rest of redishard never depends on a concrete logging library directly.
package logger

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is the configured verbosity, read from the CLI -l flag or config.
type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel maps a LogLevel to the underlying charmbracelet/log level,
// defaulting unknown values to InfoLevel.
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Logger is the subset of charmbracelet/log.Logger the proxy uses. Keeping
// it as an interface lets tests substitute a buffering logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
	With(keyvals ...any) Logger
}

type charmLogger struct {
	l *charmlog.Logger
}

func (c *charmLogger) Debug(msg any, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg any, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg any, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg any, keyvals ...any) { c.l.Error(msg, keyvals...) }
func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}

// Config controls how NewLogger builds the underlying charm logger.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	ReportTime bool
}

// NewLogger builds a Logger from Config, defaulting Output to stderr.
func NewLogger(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := charmlog.Options{ReportTimestamp: cfg.ReportTime}
	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(cfg.Level.ToCharmlogLevel())
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return &charmLogger{l: l}
}

// TestConfig returns a Config suitable for unit tests: debug level, no
// timestamps, writing to os.Stderr.
func TestConfig() Config {
	return Config{Level: DebugLevel, Output: os.Stderr}
}

// Discard returns a Logger that drops everything, used when callers want a
// non-nil logger but no output (e.g. benchmarks).
func Discard() Logger {
	return NewLogger(Config{Level: DisabledLevel, Output: io.Discard})
}
