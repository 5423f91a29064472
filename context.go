package docevent

import (
	"context"
	"log/slog"
)

type contextKey int

const dispatchContextKey contextKey = iota

type dispatchContextData struct {
	publishID string
	eventName string
	mode      Mode
	logger    *slog.Logger
}

// withDispatchContext attaches per-publish correlation data for handlers.
func withDispatchContext(ctx context.Context, data *dispatchContextData) context.Context {
	return context.WithValue(ctx, dispatchContextKey, data)
}

// ContextPublishID returns the publish call's correlation id, or "" when
// the context does not originate from a dispatch.
func ContextPublishID(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContextData); ok {
		return d.publishID
	}
	return ""
}

// ContextEventName returns the name of the published event (the combined
// name when a bundle was published), or "".
func ContextEventName(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContextData); ok {
		return d.eventName
	}
	return ""
}

// ContextMode returns the dispatch mode the handler runs under.
// Outside a dispatch it returns ModeSimple.
func ContextMode(ctx context.Context) Mode {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContextData); ok {
		return d.mode
	}
	return ModeSimple
}

// ContextLogger returns the dispatch's logger, already annotated with the
// publish id and event name. Falls back to slog.Default().
func ContextLogger(ctx context.Context) *slog.Logger {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContextData); ok && d.logger != nil {
		return d.logger
	}
	return slog.Default()
}
