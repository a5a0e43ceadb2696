package logger

import (
	"context"
)

type contextKey string

const (
	loggerKey   contextKey = "logger"
	clientIDKey contextKey = "client_id"
)

// WithLogger returns a context with the logger attached.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithClientID returns a context carrying the client handle for log
// correlation across subscribe, reconcile, and dispatch paths.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientIDFromContext extracts the client handle from context.
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

// L is a shorthand for FromContext that also binds the client handle
// when present.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := ClientIDFromContext(ctx); id != "" {
		l = l.With("client_id", id)
	}
	return l.WithContext(ctx)
}
