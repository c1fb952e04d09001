package llm

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/config"
)

// Registry holds the providers available to LLM configurations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewDefaultRegistry registers openai, anthropic and google from cfg.
func NewDefaultRegistry(cfg *config.LLMConfig, logger *zap.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.RequestTimeout, logger))
	r.Register(NewAnthropicProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.RequestTimeout, logger))
	r.Register(NewGoogleProvider(cfg.GoogleBaseURL, cfg.GoogleAPIKey, cfg.RequestTimeout, logger))
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Info().Name] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// List returns every provider's description sorted by name.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
