package providers

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/Morstis/hasura-auth/internal/config"
)

// ErrUnknownProvider is returned when a provider is not enabled or does
// not exist at all. Callers treat both the same way.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds all enabled identity providers
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return provider, nil
}

// Enabled returns all registered provider names, sorted
func (r *Registry) Enabled() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig builds a registry from configuration. Disabled
// providers are left out entirely; enabled providers are registered even
// without credentials so attempts against them can report a configuration
// error instead of a missing endpoint. Names the registry does not know
// are skipped with a warning.
func NewRegistryFromConfig(cfgs []config.ProviderConfig, log *slog.Logger) *Registry {
	registry := NewRegistry()
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		var provider Provider
		switch cfg.Name {
		case "github":
			provider = NewGitHub(cfg)
		case "google":
			provider = NewGoogle(cfg)
		case "discord":
			provider = NewDiscord(cfg)
		default:
			log.Warn("skipping unknown provider in config",
				slog.String("provider", cfg.Name))
			continue
		}
		if !provider.Configured() {
			log.Warn("provider enabled without credentials",
				slog.String("provider", cfg.Name))
		}
		registry.Register(provider)
	}
	return registry
}
