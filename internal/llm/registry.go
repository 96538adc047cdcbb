package llm

import (
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/logging"
)

// Registry holds the configured upstreams by name.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]Upstream
	log       *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		upstreams: make(map[string]Upstream),
		log:       log.Sub("llm.registry"),
	}
}

// Register adds an upstream under its own name, replacing any previous one.
func (r *Registry) Register(u Upstream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams[u.Name()] = u
	r.log.Info().Str("provider", u.Name()).Msg("registered upstream provider")
}

// Get returns the upstream with the given name.
func (r *Registry) Get(name string) (Upstream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.upstreams[name]
	return u, ok
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.upstreams))
	for n := range r.upstreams {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig builds a Provider for every configured upstream.
func NewRegistryFromConfig(cfg config.Config, log *logging.Logger) *Registry {
	reg := NewRegistry(log)
	for name, p := range cfg.Providers {
		opts := ProviderOptions{
			Name:             name,
			BaseURL:          p.BaseURL,
			DefaultModel:     p.DefaultModel,
			Prefixes:         p.Prefixes,
			Headers:          p.Headers,
			Temperature:      p.Temperature,
			MaxTokens:        p.MaxTokens,
			ConnectTimeout:   time.Duration(cfg.Relay.ConnectTimeoutSec) * time.Second,
			FirstByteTimeout: time.Duration(cfg.Relay.FirstByteTimeoutSec) * time.Second,
		}
		reg.Register(NewProvider(opts, log))
	}
	return reg
}

// CredentialsFromConfig returns the API keys configured for each provider,
// including those filled from the environment.
func CredentialsFromConfig(cfg config.Config) Credentials {
	creds := make(Credentials, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			creds[name] = p.APIKey
		}
	}
	return creds
}
