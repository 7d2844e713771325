package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/logging"
)

// Registry maps model references to provider clients. A reference is
// either "provider/model", a model routed to a provider with Route, or a
// bare provider name. Anything else goes to the default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Client
	routes    map[string]string // model -> provider
	def       string
	log       *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Client),
		routes:    make(map[string]string),
		log:       log.Sub("llm"),
	}
}

// Register adds or replaces the client for provider name.
func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = c
	r.log.Debug().Str("provider", name).Msg("provider registered")
}

// Route sends requests for model to provider.
func (r *Registry) Route(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[model] = provider
}

// SetDefault names the provider for unrouted models.
func (r *Registry) SetDefault(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = provider
}

// Resolve returns the client for ref and the model name to send to it.
func (r *Registry) Resolve(ref string) (Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, model, ok := strings.Cut(ref, "/"); ok {
		if c, ok := r.providers[provider]; ok {
			return c, model, nil
		}
	}
	if provider, ok := r.routes[ref]; ok {
		if c, ok := r.providers[provider]; ok {
			return c, ref, nil
		}
	}
	if c, ok := r.providers[ref]; ok {
		return c, ref, nil
	}
	if c, ok := r.providers[r.def]; ok {
		return c, ref, nil
	}
	return nil, "", fmt.Errorf("no LLM provider for model %q", ref)
}

// Providers returns the registered provider names in order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// NewRegistryFromConfig registers the configured OpenAI-compatible
// provider as the default and routes the primary and fallback models to it.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	r := NewRegistry(log)
	r.Register(cfg.Provider, NewOpenAIClient(OpenAIConfig{
		Name:    cfg.Provider,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}))
	r.SetDefault(cfg.Provider)
	r.Route(cfg.Model, cfg.Provider)
	for _, m := range cfg.Fallbacks {
		r.Route(m, cfg.Provider)
	}
	return r
}
