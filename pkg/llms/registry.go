package llms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/registry"
)

// New builds a provider from configuration. The context only bounds
// construction (the Gemini SDK does credential setup there), not later
// requests.
func New(ctx context.Context, cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: anthropic, openai, gemini)", cfg.Provider)
	}
}

// Registry holds named providers so multiple models can coexist in one
// process.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// Create builds a provider from configuration and registers it under name.
func (r *Registry) Create(ctx context.Context, name string, cfg *config.LLMConfig) (Provider, error) {
	provider, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := r.Register(name, provider); err != nil {
		_ = provider.Close()
		return nil, err
	}

	return provider, nil
}

// Provider returns the named provider.
func (r *Registry) Provider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("llm provider %q not found", name)
	}
	return provider, nil
}

// Close closes every registered provider and joins any errors.
func (r *Registry) Close() error {
	var errs []error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
