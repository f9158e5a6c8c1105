package vector

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aidekit/aide/pkg/config"
)

func TestNew_Chromem(t *testing.T) {
	provider, err := New(chromemConfig(""))
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	defer provider.Close()

	if got := fmt.Sprintf("%T", provider); got != "*vector.ChromemProvider" {
		t.Errorf("New() type = %s, want *vector.ChromemProvider", got)
	}
}

func TestNew_PineconeRequiresAPIKey(t *testing.T) {
	cfg := &config.VectorConfig{
		Provider:   config.VectorProviderPinecone,
		Collection: "test-knowledge",
	}

	if _, err := New(cfg); err == nil {
		t.Error("New() expected error for missing Pinecone API key, got nil")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	cfg := &config.VectorConfig{Provider: "milvus", Collection: "test-knowledge"}

	_, err := New(cfg)
	if err == nil {
		t.Fatal("New() expected error for unsupported provider, got nil")
	}
	if !strings.Contains(err.Error(), "milvus") {
		t.Errorf("error = %v, want provider named", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New() expected error for nil config, got nil")
	}
}
