package providers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ArmanHov2006/sentinel/internal/core"
	"github.com/ArmanHov2006/sentinel/internal/observability"
)

// Router dispatches a request across an ordered fallback chain of
// providers. Chains are declared per model; the wildcard "*" chain
// applies when no exact entry exists, and a model known only to the
// registry gets a single-provider chain.
type Router struct {
	registry *Registry
	chains   map[string][]string
}

// NewRouter builds a router over the registry. chains may be nil.
func NewRouter(registry *Registry, chains map[string][]string) *Router {
	if chains == nil {
		chains = map[string][]string{}
	}
	return &Router{registry: registry, chains: chains}
}

// resolve returns the providers to try for a model, strictly in
// declared order. Chain entries naming unregistered providers are
// dropped.
func (r *Router) resolve(model string) []Provider {
	names, ok := r.chains[model]
	if !ok {
		names, ok = r.chains["*"]
	}
	if !ok {
		if p, found := r.registry.GetForModel(model); found {
			return []Provider{p}
		}
		return nil
	}

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if p, found := r.registry.Get(name); found {
			out = append(out, p)
		} else {
			slog.Warn("fallback chain names unregistered provider", "provider", name, "model", model)
		}
	}
	return out
}

// Route tries each provider in the chain until one completes the
// request. Unavailable providers are skipped silently; failing ones
// are recorded and the next is tried. An exhausted chain yields
// AllProvidersFailedError, with an empty failure list when every
// provider was skipped.
func (r *Router) Route(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	chain := r.resolve(req.Model)
	if len(chain) == 0 {
		return nil, &core.NoProviderError{Model: req.Model}
	}

	var failures []core.ProviderFailure
	for _, p := range chain {
		if !p.IsAvailable() {
			slog.Debug("skipping unavailable provider", "provider", p.Name(), "model", req.Model)
			continue
		}
		resp, err := p.Complete(ctx, req)
		if errors.Is(err, core.ErrCircuitOpen) {
			slog.Debug("breaker rejected call, skipping provider", "provider", p.Name(), "model", req.Model)
			continue
		}
		if err != nil {
			observability.PromProviderRequests.WithLabelValues(p.Name(), "failure").Inc()
			slog.Warn("provider failed, trying next in chain",
				"provider", p.Name(), "model", req.Model, "error", err)
			failures = append(failures, core.ProviderFailure{Provider: p.Name(), Err: err})
			continue
		}
		observability.PromProviderRequests.WithLabelValues(p.Name(), "success").Inc()
		return resp, nil
	}
	return nil, &core.AllProvidersFailedError{Failures: failures}
}

// Stream is Route for streaming requests. It returns the event channel
// and the name of the provider that accepted the stream.
func (r *Router) Stream(ctx context.Context, req *core.ChatRequest) (<-chan StreamEvent, string, error) {
	chain := r.resolve(req.Model)
	if len(chain) == 0 {
		return nil, "", &core.NoProviderError{Model: req.Model}
	}

	var failures []core.ProviderFailure
	for _, p := range chain {
		if !p.IsAvailable() {
			continue
		}
		events, err := p.Stream(ctx, req)
		if errors.Is(err, core.ErrCircuitOpen) {
			slog.Debug("breaker rejected stream, skipping provider", "provider", p.Name(), "model", req.Model)
			continue
		}
		if err != nil {
			observability.PromProviderRequests.WithLabelValues(p.Name(), "failure").Inc()
			slog.Warn("provider failed to open stream, trying next in chain",
				"provider", p.Name(), "model", req.Model, "error", err)
			failures = append(failures, core.ProviderFailure{Provider: p.Name(), Err: err})
			continue
		}
		observability.PromProviderRequests.WithLabelValues(p.Name(), "success").Inc()
		return events, p.Name(), nil
	}
	return nil, "", &core.AllProvidersFailedError{Failures: failures}
}
