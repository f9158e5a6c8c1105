package vector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/aidekit/aide/pkg/config"
)

const defaultQdrantPort = 6334

// QdrantProvider stores vectors in a Qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client
}

// NewQdrantProvider connects to a Qdrant server. The connection is
// lazy; errors surface on the first call.
func NewQdrantProvider(cfg *config.VectorConfig) (*QdrantProvider, error) {
	host, port, err := parseQdrantHost(cfg.Host)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", host, port, err)
	}

	return &QdrantProvider{client: client}, nil
}

// parseQdrantHost splits "host:port", defaulting the gRPC port.
func parseQdrantHost(hostport string) (string, int, error) {
	if hostport == "" {
		return "localhost", defaultQdrantPort, nil
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port given.
		return hostport, defaultQdrantPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}

	return host, port, nil
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, index string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, index)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", index, err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: index,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Another writer may have created it between the check and here.
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %q: %w", index, err)
	}

	return nil
}

// Upsert adds or replaces documents, creating the collection on first
// use with the dimension of the incoming vectors.
func (p *QdrantProvider) Upsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	if err := p.ensureCollection(ctx, index, len(docs[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+1)
		for key, value := range doc.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata %q for document %s: %w", key, doc.ID, err)
			}
			payload[key] = val
		}
		// Content travels in the payload so queries can return it.
		contentVal, err := qdrant.NewValue(doc.Content)
		if err != nil {
			return fmt.Errorf("failed to convert content for document %s: %w", doc.ID, err)
		}
		payload["content"] = contentVal

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}

	return nil
}

// Query returns the topK most similar documents.
func (p *QdrantProvider) Query(ctx context.Context, index string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: index,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if len(filter) > 0 {
		searchRequest.Filter = buildQdrantFilter(filter)
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	return convertQdrantMatches(searchResult.Result), nil
}

// DeleteIndex removes a collection and all its points.
func (p *QdrantProvider) DeleteIndex(ctx context.Context, index string) error {
	if err := p.client.DeleteCollection(ctx, index); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", index, err)
	}
	return nil
}

// Close shuts down the gRPC connection.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// buildQdrantFilter turns a metadata map into must-match keyword
// conditions. Values are matched by their string form.
func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: fmt.Sprint(value),
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

func convertQdrantMatches(points []*qdrant.ScoredPoint) []Match {
	matches := make([]Match, 0, len(points))

	for _, point := range points {
		var id string
		if point.Id != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		metadata := make(map[string]any, len(point.Payload))
		for key, value := range point.Payload {
			metadata[key] = qdrantValueToAny(value)
		}

		content := ""
		if c, ok := metadata["content"].(string); ok {
			content = c
			delete(metadata, "content")
		}

		matches = append(matches, Match{
			ID:       id,
			Score:    point.Score,
			Content:  content,
			Metadata: metadata,
		})
	}

	return matches
}

func qdrantValueToAny(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = qdrantValueToAny(item)
		}
		return list
	default:
		return value
	}
}

var _ Provider = (*QdrantProvider)(nil)
