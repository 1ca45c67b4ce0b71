package zap

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	logpkg "github.com/tozevv/reliability-patterns/reliability/log"
)

// Logger is the zap-backed implementation of the log.Logger interface.
type Logger struct {
	sugared *zap.SugaredLogger
}

// Compile-time assertion: *Logger implements log.Logger.
var _ logpkg.Logger = (*Logger)(nil)

// NewLogger builds a production-configured zap logger at the given level.
func NewLogger(level logpkg.LogLevel) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return &Logger{sugared: base.Sugar()}, nil
}

// Wrap adapts an existing *zap.Logger to the log.Logger interface.
func Wrap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}

	return &Logger{sugared: base.Sugar()}
}

func (l *Logger) must() *zap.SugaredLogger {
	if l == nil || l.sugared == nil {
		return zap.NewNop().Sugar()
	}

	return l.sugared
}

// Info implements Info Logger interface function.
func (l *Logger) Info(args ...any) { l.must().Info(args...) }

// Infof implements Infof Logger interface function.
func (l *Logger) Infof(format string, args ...any) { l.must().Infof(format, args...) }

// Error implements Error Logger interface function.
func (l *Logger) Error(args ...any) { l.must().Error(args...) }

// Errorf implements Errorf Logger interface function.
func (l *Logger) Errorf(format string, args ...any) { l.must().Errorf(format, args...) }

// Warn implements Warn Logger interface function.
func (l *Logger) Warn(args ...any) { l.must().Warn(args...) }

// Warnf implements Warnf Logger interface function.
func (l *Logger) Warnf(format string, args ...any) { l.must().Warnf(format, args...) }

// Debug implements Debug Logger interface function.
func (l *Logger) Debug(args ...any) { l.must().Debug(args...) }

// Debugf implements Debugf Logger interface function.
func (l *Logger) Debugf(format string, args ...any) { l.must().Debugf(format, args...) }

// WithFields returns a child logger with additional structured fields.
// Fields are interpreted as alternating key/value pairs.
//
//nolint:ireturn
func (l *Logger) WithFields(fields ...any) logpkg.Logger {
	return &Logger{sugared: l.must().With(fields...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.must().Sync()
}

// toZapLevel converts a log.LogLevel to the equivalent zapcore.Level.
func toZapLevel(level logpkg.LogLevel) zapcore.Level {
	switch level {
	case logpkg.DebugLevel:
		return zapcore.DebugLevel
	case logpkg.InfoLevel:
		return zapcore.InfoLevel
	case logpkg.WarnLevel:
		return zapcore.WarnLevel
	case logpkg.ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
