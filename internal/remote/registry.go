package remote

import (
	"fmt"
	"sync"
)

// Constructor creates a Store instance from backend configuration.
// Implementations register themselves with a Registry.
type Constructor func(cfg Config) (Store, error)

// Registry maps providers to their constructors. It is an explicit value:
// the caller builds one, registers the backends it wants available, and
// hands it to the factory or the sync engine. There is no package-level
// registry.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Provider]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[Provider]Constructor),
	}
}

// Register registers a backend constructor.
//
// Registering a nil constructor or the same provider twice panics: both
// indicate a wiring bug, not a runtime condition.
func (r *Registry) Register(p Provider, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for provider %s", p))
	}
	if _, exists := r.constructors[p]; exists {
		panic(fmt.Sprintf("remote: Register called twice for provider %s", p))
	}

	r.constructors[p] = constructor
}

// IsRegistered returns true if a constructor is registered for p.
func (r *Registry) IsRegistered(p Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.constructors[p]
	return exists
}

// Providers returns all registered providers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.constructors))
	for p := range r.constructors {
		providers = append(providers, p)
	}
	return providers
}

// New constructs a Store for the given provider.
func (r *Registry) New(p Provider, cfg Config) (Store, error) {
	r.mu.RLock()
	constructor := r.constructors[p]
	r.mu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("remote: no backend registered for provider %q", p)
	}
	return constructor(cfg)
}
