package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/httpclient"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaEmbedMu serializes every embedding request across all Ollama
// embedders in the process. The llama runner aborts when it receives
// concurrent embedding requests, so requests go through one at a time.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder produces embeddings through a local Ollama server.
type OllamaEmbedder struct {
	config     *config.EmbedderConfig
	baseURL    string
	httpClient *httpclient.Client
}

// OllamaEmbedRequest is the request payload for /api/embeddings.
type OllamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// OllamaEmbedResponse is the response from /api/embeddings.
type OllamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder backed by an Ollama server.
func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	return &OllamaEmbedder{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
			httpclient.WithMaxRetries(3),
		),
	}, nil
}

// Embed converts one text into a vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	request := OllamaEmbedRequest{
		Model:  e.config.Model,
		Prompt: text,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from Ollama")
	}

	return response.Embedding, nil
}

// EmbedBatch converts texts into vectors one request at a time. Ollama
// has no batch endpoint for the embeddings API this targets.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vector)
	}

	return vectors, nil
}

// Dimension reports the configured vector width.
func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimensions
}

// ModelName reports the configured model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases resources held by the embedder.
func (e *OllamaEmbedder) Close() error {
	return nil
}

var _ Embedder = (*OllamaEmbedder)(nil)
