package providers

import (
	"sort"
	"sync"
)

// Registry maps provider names to adapters and keeps a denormalized
// model index so the router can resolve a model without scanning.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	byModel   map[string]string // model -> provider name
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
		byModel:   map[string]string{},
	}
}

// Register adds a provider under its name. Re-registering a name
// replaces the old adapter and evicts its model entries first, so a
// shrunk model list leaves no stale index entries behind.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.providers[p.Name()]; ok {
		for _, m := range old.Models() {
			if r.byModel[m] == old.Name() {
				delete(r.byModel, m)
			}
		}
	}
	r.providers[p.Name()] = p
	for _, m := range p.Models() {
		r.byModel[m] = p.Name()
	}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// GetForModel returns the provider that declared the model.
func (r *Registry) GetForModel(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byModel[model]
	if !ok {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// ListProviders returns all registered provider names, sorted.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListModels returns all declared models, sorted.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// ListAvailable returns the providers whose breaker currently admits
// calls, sorted by name.
func (r *Registry) ListAvailable() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if p := r.providers[name]; p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered provider, sorted by name. The health
// endpoint walks this to report breaker states.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		out = append(out, r.providers[name])
	}
	return out
}
