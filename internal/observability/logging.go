// Package observability provides the structured, request-scoped logger
// used across the core. It is a thin wrapper around log/slog, using a
// handler-swap approach rather than introducing a third-party logging
// library.
package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// NewBase builds the process-wide base logger. JSON output in
// production, human-readable text in dev, matching Profile.IsDev.
func NewBase(isDev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isDev {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// RequestFields carries the attributes every request-scoped logger in
// the streaming path should attach: trace_id ties together a single
// agent invocation, user_id/thread_id identify the owner and
// conversation, stream_id identifies a single streaming call distinct
// from the thread.
type RequestFields struct {
	TraceID  string
	UserID   string
	ThreadID string
	StreamID string
}

// WithRequest returns a logger enriched with non-empty RequestFields,
// stored in ctx for retrieval via FromContext.
func WithRequest(ctx context.Context, base *slog.Logger, f RequestFields) (context.Context, *slog.Logger) {
	var attrs []any
	if f.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", f.TraceID))
	}
	if f.UserID != "" {
		attrs = append(attrs, slog.String("user_id", f.UserID))
	}
	if f.ThreadID != "" {
		attrs = append(attrs, slog.String("thread_id", f.ThreadID))
	}
	if f.StreamID != "" {
		attrs = append(attrs, slog.String("stream_id", f.StreamID))
	}
	logger := base.With(attrs...)
	return context.WithValue(ctx, ctxKey{}, logger), logger
}

// FromContext returns the logger stashed by WithRequest, or
// slog.Default() if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
