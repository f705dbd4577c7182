package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel converts a configuration string to a LogLevel.
// Unknown values fall back to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	handler slog.Handler
	tz      *time.Location
}

// NewSlogLogger creates a text logger writing to w at the given level.
// Timestamps are rendered in tz; a nil tz means local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return newSlogLogger(w, level, tz, false)
}

// NewJSONLogger creates a logger that writes one JSON object per line.
func NewJSONLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return newSlogLogger(w, level, tz, true)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *SlogLogger {
	return newSlogLogger(io.Discard, LogLevelError, nil, false)
}

func newSlogLogger(w io.Writer, level LogLevel, tz *time.Location, jsonOutput bool) *SlogLogger {
	if tz == nil {
		tz = time.Local
	}
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return a
		},
	}
	var h slog.Handler
	if jsonOutput {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{handler: h, tz: tz}
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(toAttrs(fields)...)
	_ = l.handler.Handle(ctx, r)
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }

// Info logs at info level.
func (l *SlogLogger) Info(msg string, fields ...Field) { l.log(slog.LevelInfo, msg, fields) }

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, fields ...Field) { l.log(slog.LevelWarn, msg, fields) }

// Error logs at error level.
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// With returns a child logger carrying fields on every record.
func (l *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{handler: l.handler.WithAttrs(toAttrs(fields)), tz: l.tz}
}

// Module returns a child logger tagged with module=name.
func (l *SlogLogger) Module(name string) Logger {
	return l.With(String("module", name))
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}
