package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	triggerIDKey
	proposalIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTriggerID stores the trigger being evaluated.
func WithTriggerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, triggerIDKey, id)
}

// TriggerID extracts the trigger ID from the context.
func TriggerID(ctx context.Context) string {
	id, _ := ctx.Value(triggerIDKey).(string)
	return id
}

// WithProposalID stores the proposal being decided or applied.
func WithProposalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, proposalIDKey, id)
}

// ProposalID extracts the proposal ID from the context.
func ProposalID(ctx context.Context) string {
	id, _ := ctx.Value(proposalIDKey).(string)
	return id
}

// ContextHandler copies correlation ids from the record's context into
// attributes before delegating. It must wrap the async handler, since the
// async workers drain with a background context.
type ContextHandler struct {
	inner slog.Handler
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds request_id, trigger_id and proposal_id when present.
func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := TriggerID(ctx); id != "" {
		rec.AddAttrs(slog.String("trigger_id", id))
	}
	if id := ProposalID(ctx); id != "" {
		rec.AddAttrs(slog.String("proposal_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

// WithAttrs wraps the inner handler's WithAttrs.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup wraps the inner handler's WithGroup.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
