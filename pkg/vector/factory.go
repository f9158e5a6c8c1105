package vector

import (
	"fmt"

	"github.com/aidekit/aide/pkg/config"
)

// New builds a vector store from configuration.
func New(cfg *config.VectorConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector config cannot be nil")
	}

	switch cfg.Provider {
	case config.VectorProviderChromem:
		return NewChromemProvider(cfg)
	case config.VectorProviderQdrant:
		return NewQdrantProvider(cfg)
	case config.VectorProviderPinecone:
		return NewPineconeProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector provider %q (supported: chromem, qdrant, pinecone)", cfg.Provider)
	}
}
