package llms

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aidekit/aide/pkg/config"
)

// staticProvider is a canned Provider for registry tests.
type staticProvider struct {
	model  string
	closed bool
}

func (p *staticProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	return "static response", 3, nil
}

func (p *staticProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	chunks := make(chan StreamChunk, 2)
	chunks <- StreamChunk{Type: ChunkText, Text: "static response"}
	chunks <- StreamChunk{Type: ChunkDone, Tokens: 3}
	close(chunks)
	return chunks, nil
}

func (p *staticProvider) ModelName() string { return p.model }

func (p *staticProvider) Close() error {
	p.closed = true
	return nil
}

func TestNew_SwitchesOnProvider(t *testing.T) {
	tests := []struct {
		provider config.LLMProvider
		want     string
	}{
		{config.LLMProviderAnthropic, "*llms.AnthropicProvider"},
		{config.LLMProviderOpenAI, "*llms.OpenAIProvider"},
		{config.LLMProviderGemini, "*llms.GeminiProvider"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			cfg := &config.LLMConfig{
				Provider: tt.provider,
				Model:    "test-model",
				APIKey:   "test-key",
			}

			provider, err := New(context.Background(), cfg)
			if err != nil {
				t.Fatalf("New() error = %v, want nil", err)
			}

			if got := fmt.Sprintf("%T", provider); got != tt.want {
				t.Errorf("New() type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), &config.LLMConfig{
		Provider: "cohere",
		Model:    "command-r",
		APIKey:   "test-key",
	})
	if err == nil {
		t.Fatal("New() expected error for unsupported provider, got nil")
	}
	if !strings.Contains(err.Error(), "cohere") {
		t.Errorf("New() error = %v, want to name the provider", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("New() expected error for nil config, got nil")
	}
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	reg := NewRegistry()

	created, err := reg.Create(context.Background(), "primary", &config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := reg.Provider("primary")
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	if got != created {
		t.Error("Provider() returned a different instance than Create()")
	}

	if _, err := reg.Provider("missing"); err == nil {
		t.Error("Provider() expected error for unknown name, got nil")
	}
}

func TestRegistry_Create_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	cfg := &config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	}

	if _, err := reg.Create(context.Background(), "primary", cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := reg.Create(context.Background(), "primary", cfg); err == nil {
		t.Error("Create() expected error for duplicate name, got nil")
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()

	first := &staticProvider{model: "first"}
	second := &staticProvider{model: "second"}

	if err := reg.Register("first", first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("second", second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !first.closed || !second.closed {
		t.Error("Close() should close every registered provider")
	}
}
