package log

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	clferrors "github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	zl     zerolog.Logger
	fields []any
}

// NewZerologLogger creates a logger writing to w. When console is true the
// output is human-readable (zerolog.ConsoleWriter), otherwise JSON lines.
func NewZerologLogger(w io.Writer, level Level, console bool) *ZerologLogger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &ZerologLogger{zl: zl}
}

// Debug implements Logger.Debug.
func (l *ZerologLogger) Debug(msg string, fields ...any) {
	l.emit(l.zl.Debug(), msg, fields)
}

// Info implements Logger.Info.
func (l *ZerologLogger) Info(msg string, fields ...any) {
	l.emit(l.zl.Info(), msg, fields)
}

// Warn implements Logger.Warn.
func (l *ZerologLogger) Warn(msg string, fields ...any) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error implements Logger.Error.
func (l *ZerologLogger) Error(msg string, fields ...any) {
	l.emit(l.zl.Error(), msg, fields)
}

// With implements Logger.With.
func (l *ZerologLogger) With(fields ...any) Logger {
	merged := make([]any, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &ZerologLogger{zl: l.zl, fields: merged}
}

// Enabled implements Logger.Enabled.
func (l *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= l.zl.GetLevel()
}

func (l *ZerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	// call-site fields first so a leading error is recognised
	e = appendFields(e, fields)
	e = appendFields(e, l.fields)
	e.Msg(msg)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                {}
func (nopLogger) Info(string, ...any)                 {}
func (nopLogger) Warn(string, ...any)                 {}
func (nopLogger) Error(string, ...any)                {}
func (n nopLogger) With(...any) Logger                { return n }
func (nopLogger) Enabled(context.Context, Level) bool { return false }

// Nop returns a Logger that discards all records.
func Nop() Logger {
	return nopLogger{}
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = nopLogger{}
)

// SetLogger replaces the process-wide logger and routes library warnings
// (errors.Warn) to it. nil restores the no-op logger and the default warning handler.
func SetLogger(l Logger) {
	if l == nil {
		globalMu.Lock()
		globalLogger = nopLogger{}
		globalMu.Unlock()
		clferrors.SetZerologWarnFunc(nil)
		return
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()

	clferrors.SetZerologWarnFunc(func(w error) {
		l.Warn(w.Error(), "warning", w)
	})
}

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// GetLoggerWithName returns the process-wide logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	return GetLogger().With(ComponentKey, name)
}

// SetupLogger installs a zerolog logger on stderr at the named level.
func SetupLogger(level string, console bool) error {
	lvl, err := ToLogLevel(level)
	if err != nil {
		return err
	}
	SetLogger(NewZerologLogger(os.Stderr, lvl, console))
	return nil
}

// ToLogLevel parses "debug", "info", "warn" or "error".
func ToLogLevel(level string) (Level, error) {
	zl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return LevelInfo, clferrors.NewInvalidParameterError("log_level", "must be one of debug, info, warn, error", level)
	}
	switch zl {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return LevelDebug, nil
	case zerolog.InfoLevel, zerolog.NoLevel:
		return LevelInfo, nil
	case zerolog.WarnLevel:
		return LevelWarn, nil
	default:
		return LevelError, nil
	}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
