package embedders

import (
	"fmt"
	"strings"
	"testing"
)

func TestNew_SwitchesOnProvider(t *testing.T) {
	tests := []struct {
		name     string
		build    func() (Embedder, error)
		wantType string
	}{
		{
			name: "openai",
			build: func() (Embedder, error) {
				return New(openAIEmbedderConfig(""))
			},
			wantType: "*embedders.OpenAIEmbedder",
		},
		{
			name: "ollama",
			build: func() (Embedder, error) {
				return New(ollamaEmbedderConfig(""))
			},
			wantType: "*embedders.OllamaEmbedder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder, err := tt.build()
			if err != nil {
				t.Fatalf("New() error = %v, want nil", err)
			}
			if got := fmt.Sprintf("%T", embedder); got != tt.wantType {
				t.Errorf("New() type = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	cfg := openAIEmbedderConfig("")
	cfg.Provider = "cohere"

	_, err := New(cfg)
	if err == nil {
		t.Fatal("New() expected error for unsupported provider, got nil")
	}
	if !strings.Contains(err.Error(), "cohere") {
		t.Errorf("error = %v, want provider named", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New() expected error for nil config, got nil")
	}
}
