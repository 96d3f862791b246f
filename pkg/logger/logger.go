// Package logger provides the leveled, structured logging interface used by
// every TrackHub component. Arguments after the message are slog-style
// key/value pairs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// Silent suppresses all log output.
	Silent LogLevel = iota + 1
	// Error only logs error messages.
	Error
	// Warn logs warnings and errors.
	Warn
	// Info logs informational messages, warnings, and errors.
	Info
	// Debug logs all messages including debug information.
	Debug
)

// ParseLevel maps a textual level ("debug", "info", "warn", "error",
// "silent") to a LogLevel. Unknown values map to Warn.
func ParseLevel(s string) LogLevel {
	switch s {
	case "silent", "off", "none":
		return Silent
	case "error":
		return Error
	case "info":
		return Info
	case "debug":
		return Debug
	default:
		return Warn
	}
}

// String returns the lowercase level name.
func (l LogLevel) String() string {
	switch l {
	case Silent:
		return "silent"
	case Error:
		return "error"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return "warn"
	}
}

// Logger is the interface that wraps the basic logging methods.
type Logger interface {
	// LogMode returns a copy of the logger with the given level.
	LogMode(level LogLevel) Logger
	// Level reports the current level.
	Level() LogLevel
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	// With returns a logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

// SlogLogger is the default Logger, backed by log/slog.
type SlogLogger struct {
	handler slog.Handler
	attrs   []any
	level   LogLevel
}

// NewSlogLogger creates a logger writing text records to w.
func NewSlogLogger(w io.Writer, level LogLevel) *SlogLogger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &SlogLogger{handler: h, level: level}
}

// FromHandler wraps an existing slog handler.
func FromHandler(h slog.Handler, level LogLevel) *SlogLogger {
	return &SlogLogger{handler: h, level: level}
}

// LogMode sets the log level and returns a new logger instance.
func (l *SlogLogger) LogMode(level LogLevel) Logger {
	cp := *l
	cp.level = level
	return &cp
}

// Level reports the current level.
func (l *SlogLogger) Level() LogLevel { return l.level }

// With returns a child logger carrying args on every record.
func (l *SlogLogger) With(args ...any) Logger {
	cp := *l
	cp.attrs = append(append([]any(nil), l.attrs...), args...)
	return &cp
}

func (l *SlogLogger) Info(msg string, args ...any) {
	if l.level >= Info {
		l.log(slog.LevelInfo, msg, args)
	}
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	if l.level >= Warn {
		l.log(slog.LevelWarn, msg, args)
	}
}

func (l *SlogLogger) Error(msg string, args ...any) {
	if l.level >= Error {
		l.log(slog.LevelError, msg, args)
	}
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	if l.level >= Debug {
		l.log(slog.LevelDebug, msg, args)
	}
}

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	logger := slog.New(l.handler)
	if len(l.attrs) > 0 {
		logger = logger.With(l.attrs...)
	}
	logger.Log(context.Background(), level, msg, args...)
}

type discardLogger struct{}

func (d *discardLogger) LogMode(LogLevel) Logger { return d }
func (d *discardLogger) Level() LogLevel         { return Silent }
func (d *discardLogger) With(...any) Logger      { return d }
func (d *discardLogger) Info(string, ...any)     {}
func (d *discardLogger) Warn(string, ...any)     {}
func (d *discardLogger) Error(string, ...any)    {}
func (d *discardLogger) Debug(string, ...any)    {}

// Discard is a logger that discards all output.
var Discard Logger = &discardLogger{}

// New returns a default logger that writes to stderr at Warn level.
func New() Logger {
	return NewSlogLogger(os.Stderr, Warn).With("component", "trackhub")
}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}
