// Package trace carries the per-request trace ID through the pipeline via
// context.Context, so every stage can log it without threading it by hand.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// HeaderRequestID is the inbound/outbound header carrying the trace ID.
const HeaderRequestID = "X-Request-ID"

// WithRequestID returns a context carrying the given trace ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the trace ID stored in the context, or "" when the
// context was never tagged.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Ensure returns the context's trace ID, minting a new one if absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
