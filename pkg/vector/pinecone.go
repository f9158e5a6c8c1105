package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aidekit/aide/pkg/config"
)

// PineconeProvider stores vectors in the managed Pinecone service.
//
// Indexes must already exist; Pinecone provisions them asynchronously,
// so creation stays an operator task in the console or API.
type PineconeProvider struct {
	client    *pinecone.Client
	namespace string

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection
}

// NewPineconeProvider creates a Pinecone-backed vector store.
func NewPineconeProvider(cfg *config.VectorConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{
		client:    client,
		namespace: cfg.Namespace,
		conns:     make(map[string]*pinecone.IndexConnection),
	}, nil
}

// getIndexConnection resolves and caches a data-plane connection for
// an index. Resolution costs a control-plane round trip, so the handle
// is reused across calls.
func (p *PineconeProvider) getIndexConnection(ctx context.Context, index string) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[index]; ok {
		return conn, nil
	}

	described, err := p.client.DescribeIndex(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", index, err)
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      described.Host,
		Namespace: p.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index %q: %w", index, err)
	}

	p.conns[index] = conn
	return conn, nil
}

// Upsert adds or replaces documents in an index.
func (p *PineconeProvider) Upsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	conn, err := p.getIndexConnection(ctx, index)
	if err != nil {
		return err
	}

	vectors := make([]*pinecone.Vector, 0, len(docs))
	for _, doc := range docs {
		fields := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			fields[k] = v
		}
		// Content travels in the metadata so queries can return it.
		fields["content"] = doc.Content

		metadata, err := structpb.NewStruct(fields)
		if err != nil {
			return fmt.Errorf("failed to convert metadata for document %s: %w", doc.ID, err)
		}

		vectors = append(vectors, &pinecone.Vector{
			Id:       doc.ID,
			Values:   doc.Vector,
			Metadata: metadata,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(vectors), err)
	}

	return nil
}

// Query returns the topK most similar documents.
func (p *PineconeProvider) Query(ctx context.Context, index string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	conn, err := p.getIndexConnection(ctx, index)
	if err != nil {
		return nil, err
	}

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	response, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	return convertPineconeMatches(response.Matches), nil
}

// DeleteIndex removes a Pinecone index entirely.
func (p *PineconeProvider) DeleteIndex(ctx context.Context, index string) error {
	p.mu.Lock()
	if conn, ok := p.conns[index]; ok {
		_ = conn.Close()
		delete(p.conns, index)
	}
	p.mu.Unlock()

	if err := p.client.DeleteIndex(ctx, index); err != nil {
		return fmt.Errorf("failed to delete index %q: %w", index, err)
	}
	return nil
}

// Close shuts down all cached index connections.
func (p *PineconeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for index, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection to %q: %w", index, err)
		}
	}
	p.conns = make(map[string]*pinecone.IndexConnection)

	return firstErr
}

func convertPineconeMatches(scored []*pinecone.ScoredVector) []Match {
	matches := make([]Match, 0, len(scored))

	for _, sv := range scored {
		if sv.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if sv.Vector.Metadata != nil {
			for k, v := range sv.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		content := ""
		if c, ok := metadata["content"].(string); ok {
			content = c
			delete(metadata, "content")
		}

		matches = append(matches, Match{
			ID:       sv.Vector.Id,
			Score:    sv.Score,
			Content:  content,
			Metadata: metadata,
		})
	}

	return matches
}

var _ Provider = (*PineconeProvider)(nil)
