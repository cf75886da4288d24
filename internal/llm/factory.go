package llm

import (
	"fmt"
	"sort"
	"sync"

	"pagechat/internal/config"
)

const localBaseURL = "http://localhost:11434/v1"

// NewProvider creates an LLM provider by id from config.
func NewProvider(name string, cfg config.LLMConfig) (Provider, error) {
	baseURL := cfg.BaseURLs[name]
	switch name {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Name:        "openai",
			BaseURL:     baseURL,
			MaxRetries:  cfg.MaxRetries,
			TimeoutSecs: cfg.TimeoutSecs,
		}), nil
	case "local":
		if baseURL == "" {
			baseURL = localBaseURL
		}
		p := NewOpenAIProvider(OpenAIConfig{
			Name:        "local",
			BaseURL:     baseURL,
			MaxRetries:  cfg.MaxRetries,
			TimeoutSecs: cfg.TimeoutSecs,
		})
		p.legacyMaxTokens = true
		return p, nil
	case "openrouter":
		return NewOpenRouterProvider(OpenRouterConfig{
			BaseURL:     baseURL,
			AppURL:      cfg.AppURL,
			AppTitle:    cfg.AppTitle,
			MaxRetries:  cfg.MaxRetries,
			TimeoutSecs: cfg.TimeoutSecs,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			BaseURL:     baseURL,
			MaxRetries:  cfg.MaxRetries,
			TimeoutSecs: cfg.TimeoutSecs,
		}), nil
	case "gemini":
		return NewGeminiProvider(GeminiConfig{
			BaseURL:     baseURL,
			TimeoutSecs: cfg.TimeoutSecs,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", name)
	}
}

// KnownProviders lists the provider ids NewProvider accepts.
var KnownProviders = []string{"openai", "anthropic", "gemini", "openrouter", "local"}

// RequiresKey reports whether provider needs an API key to be called.
func RequiresKey(provider string) bool {
	return provider != "local"
}

// Registry maps provider ids to providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding every known provider built from cfg.
func NewRegistry(cfg config.LLMConfig) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, name := range KnownProviders {
		p, err := NewProvider(name, cfg)
		if err != nil {
			continue
		}
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[p.Name()] = p
}

// Get returns the provider registered as name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
