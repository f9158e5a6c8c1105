package vector

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestParseQdrantHost(t *testing.T) {
	tests := []struct {
		name     string
		hostport string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "empty defaults to localhost", hostport: "", wantHost: "localhost", wantPort: 6334},
		{name: "bare host gets default port", hostport: "qdrant.internal", wantHost: "qdrant.internal", wantPort: 6334},
		{name: "host and port", hostport: "localhost:7000", wantHost: "localhost", wantPort: 7000},
		{name: "non-numeric port", hostport: "localhost:grpc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := parseQdrantHost(tt.hostport)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseQdrantHost() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseQdrantHost() error = %v", err)
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("parseQdrantHost() = (%s, %d), want (%s, %d)", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestBuildQdrantFilter(t *testing.T) {
	filter := buildQdrantFilter(map[string]any{"source": "a.md"})

	if len(filter.Must) != 1 {
		t.Fatalf("len(Must) = %d, want 1", len(filter.Must))
	}

	field := filter.Must[0].GetField()
	if field == nil {
		t.Fatal("condition is not a field condition")
	}
	if field.Key != "source" {
		t.Errorf("field key = %s, want source", field.Key)
	}
	if got := field.Match.GetKeyword(); got != "a.md" {
		t.Errorf("keyword = %q, want a.md", got)
	}
}

func TestConvertQdrantMatches(t *testing.T) {
	contentVal, err := qdrant.NewValue("stored text")
	if err != nil {
		t.Fatalf("NewValue() error = %v", err)
	}
	sourceVal, err := qdrant.NewValue("a.md")
	if err != nil {
		t.Fatalf("NewValue() error = %v", err)
	}

	points := []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewID("7b1ffa4c-3373-474f-9ce9-97e4b54d82da"),
			Score: 0.93,
			Payload: map[string]*qdrant.Value{
				"content": contentVal,
				"source":  sourceVal,
			},
		},
	}

	matches := convertQdrantMatches(points)
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}

	match := matches[0]
	if match.ID != "7b1ffa4c-3373-474f-9ce9-97e4b54d82da" {
		t.Errorf("ID = %s, want point uuid", match.ID)
	}
	if match.Score != 0.93 {
		t.Errorf("Score = %v, want 0.93", match.Score)
	}
	if match.Content != "stored text" {
		t.Errorf("Content = %q, want stored text", match.Content)
	}
	if _, ok := match.Metadata["content"]; ok {
		t.Error("content should be lifted out of metadata")
	}
	if got := match.Metadata["source"]; got != "a.md" {
		t.Errorf("metadata source = %v, want a.md", got)
	}
}
