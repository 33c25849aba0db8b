package remote

import "fmt"

// Factory creates Store instances from a registry, applying a
// preferred/fallback selection policy.
type Factory struct {
	registry *Registry

	// preferred is the provider used when available.
	preferred Provider

	// fallback is used when the preferred provider is not registered.
	fallback Provider
}

// FactoryOption configures the factory.
type FactoryOption func(*Factory)

// WithPreferred sets the preferred provider.
func WithPreferred(p Provider) FactoryOption {
	return func(f *Factory) { f.preferred = p }
}

// WithFallback sets the fallback provider.
func WithFallback(p Provider) FactoryOption {
	return func(f *Factory) { f.fallback = p }
}

// NewFactory creates a factory over the given registry.
//
// Default behavior:
//   - Prefer the git-object HTTP backend
//   - Fall back to the in-memory backend
func NewFactory(registry *Registry, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry:  registry,
		preferred: ProviderGitHTTP,
		fallback:  ProviderMemory,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create constructs the active Store.
//
// If provider is non-empty it is used directly; otherwise the factory
// tries its preferred provider and then its fallback.
func (f *Factory) Create(provider Provider, cfg Config) (Store, error) {
	if provider != "" {
		return f.registry.New(provider, cfg)
	}

	if f.registry.IsRegistered(f.preferred) {
		return f.registry.New(f.preferred, cfg)
	}
	if f.registry.IsRegistered(f.fallback) {
		return f.registry.New(f.fallback, cfg)
	}

	return nil, fmt.Errorf("remote: neither preferred (%s) nor fallback (%s) provider is registered",
		f.preferred, f.fallback)
}
