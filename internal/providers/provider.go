// Package providers defines the uniform adapter contract, the
// name/model registry, the ordered-fallback router, and the factory
// adapters self-register with.
package providers

import (
	"context"

	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/resilience"
)

// StreamEvent is one element of a streaming completion. A non-nil Err
// ends the stream; the channel is closed after the final event.
type StreamEvent struct {
	Content string
	Err     error
}

// Provider is the uniform interface over one upstream vendor. Each
// adapter owns one circuit breaker and one retry policy; the router
// relies on IsAvailable to skip adapters whose breaker is open.
type Provider interface {
	Name() string
	Models() []string
	HealthCheck(ctx context.Context) error
	Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error)
	Stream(ctx context.Context, req *core.ChatRequest) (<-chan StreamEvent, error)
	IsAvailable() bool
	Breaker() *resilience.Breaker
}
