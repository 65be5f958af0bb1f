package logger

import "context"

type ctxKey struct{}

// LoggerCtxKey is exported so tests can inject malformed values to
// exercise the fallback-to-default path.
var LoggerCtxKey = ctxKey{}

var defaultLogger = NewLogger(Config{Level: InfoLevel})

// ContextWithLogger attaches l to ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// FromContext returns the Logger attached to ctx, or a package default if
// none is present or the value is of the wrong type.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	if l, ok := ctx.Value(LoggerCtxKey).(Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}
