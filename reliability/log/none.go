package log

// NoneLogger is a no-op implementation of the Logger interface, useful as a
// default when no logger is injected and in tests.
type NoneLogger struct{}

// Info drops the log event.
func (l *NoneLogger) Info(args ...any) {}

// Infof drops the log event.
func (l *NoneLogger) Infof(format string, args ...any) {}

// Error drops the log event.
func (l *NoneLogger) Error(args ...any) {}

// Errorf drops the log event.
func (l *NoneLogger) Errorf(format string, args ...any) {}

// Warn drops the log event.
func (l *NoneLogger) Warn(args ...any) {}

// Warnf drops the log event.
func (l *NoneLogger) Warnf(format string, args ...any) {}

// Debug drops the log event.
func (l *NoneLogger) Debug(args ...any) {}

// Debugf drops the log event.
func (l *NoneLogger) Debugf(format string, args ...any) {}

// WithFields returns the same no-op logger.
//
//nolint:ireturn
func (l *NoneLogger) WithFields(fields ...any) Logger {
	return l
}

// Sync is a no-op and always returns nil.
func (l *NoneLogger) Sync() error { return nil }
