package relay

import (
	"slices"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/llm"
)

// Attempt is one (provider, model) pair to try.
type Attempt struct {
	Upstream llm.Upstream
	Model    string
	APIKey   string
}

// Provider returns the attempt's provider name.
func (a Attempt) Provider() string { return a.Upstream.Name() }

// Selector plans which upstreams serve a requested model.
type Selector struct {
	registry     *llm.Registry
	order        []string
	fallback     string
	defaultModel string
}

// NewSelector creates a selector over the registry using the relay config.
func NewSelector(registry *llm.Registry, cfg config.RelayConfig) *Selector {
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = config.DefaultModel
	}
	return &Selector{
		registry:     registry,
		order:        cfg.Order,
		fallback:     cfg.Fallback,
		defaultModel: defaultModel,
	}
}

// DefaultModel returns the model used when a request names none.
func (s *Selector) DefaultModel() string { return s.defaultModel }

// Providers returns the registered providers in selection order, followed
// by the fallback if it is not already listed.
func (s *Selector) Providers() []string {
	var out []string
	for _, name := range s.order {
		if _, ok := s.registry.Get(name); ok && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if _, ok := s.registry.Get(s.fallback); ok && !slices.Contains(out, s.fallback) {
		out = append(out, s.fallback)
	}
	return out
}

// Plan returns at most two attempts, in order.
//
// The first is the first provider in the configured order whose naming
// matches the model and for which a credential is present. The second is the
// fallback provider with its own default model, since it is not assumed to
// serve the requested id. Providers without a credential are never planned,
// so an empty plan means no credential is usable.
func (s *Selector) Plan(model string, creds llm.Credentials) []Attempt {
	if model == "" {
		model = s.defaultModel
	}

	var plan []Attempt
	for _, name := range s.order {
		u, ok := s.registry.Get(name)
		if !ok || !u.Matches(model) {
			continue
		}
		if key := creds.Key(name); key != "" {
			plan = append(plan, Attempt{Upstream: u, Model: model, APIKey: key})
			break
		}
	}

	if u, ok := s.registry.Get(s.fallback); ok {
		if key := creds.Key(s.fallback); key != "" {
			fb := Attempt{Upstream: u, Model: u.DefaultModel(), APIKey: key}
			if len(plan) == 0 || plan[0].Provider() != fb.Provider() || plan[0].Model != fb.Model {
				plan = append(plan, fb)
			}
		}
	}
	return plan
}
