// Package log provides a structured logging interface for the classification pipeline.
//
// The interface is slog-shaped (message plus key/value pairs) and backed by
// zerolog. Standard attribute keys (see attributes.go) keep fields consistent
// across the partitioner, the estimators, the grid search and the evaluator.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("pipeline").With(
//	    log.ModelNameKey, "svmRadial",
//	)
//	logger.Info("Training started",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 700,
//	    log.FeaturesKey, 4,
//	)

package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. An error passed as the first field
// of Error is logged under the "error" key together with its stack trace.
type Logger interface {
	// Debug logs per-fold and per-iteration detail.
	Debug(msg string, fields ...any)

	// Info logs stage boundaries of a run.
	//
	// Example:
	//   logger.Info("Grid search finished",
	//       log.GridPointsKey, 9,
	//       log.AccuracyKey, 0.96,
	//   )
	Info(msg string, fields ...any)

	// Warn logs recoverable problems, for example a grid point that failed.
	Warn(msg string, fields ...any)

	// Error logs an error condition.
	//
	// Example:
	//   logger.Error("Load failed", err, log.SourceKey, path)
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. Tests swap in a TestLoggerProvider.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
