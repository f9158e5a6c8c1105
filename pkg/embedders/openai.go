package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIEmbedBatchSize caps how many inputs go into a single request.
// The API accepts up to 2048, but smaller bodies keep retries cheap.
const openAIEmbedBatchSize = 100

// OpenAIEmbedder produces embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	config     *config.EmbedderConfig
	baseURL    string
	httpClient *httpclient.Client
}

// OpenAIEmbedRequest is the request payload for the embeddings endpoint.
type OpenAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OpenAIEmbedResponse is the response from the embeddings endpoint.
type OpenAIEmbedResponse struct {
	Data  []OpenAIEmbedding `json:"data"`
	Model string            `json:"model"`
	Usage OpenAIEmbedUsage  `json:"usage"`
}

// OpenAIEmbedding is a single vector in an embeddings response.
// Index ties it back to its position in the request input.
type OpenAIEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// OpenAIEmbedUsage reports token consumption for an embeddings call.
type OpenAIEmbedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(cfg *config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embeddings")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &OpenAIEmbedder{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

// Embed converts one text into a vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("received empty embedding from OpenAI")
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, preserving input order. Large
// inputs are split into chunks of openAIEmbedBatchSize per request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIEmbedBatchSize {
		end := start + openAIEmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	return results, nil
}

func (e *OpenAIEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	request := OpenAIEmbedRequest{
		Model: e.config.Model,
		Input: texts,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIEmbedError(resp.StatusCode, body)
	}

	var response OpenAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d inputs", len(response.Data), len(texts))
	}

	// The API may return vectors out of order; Index restores it.
	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", item.Index, len(texts))
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// Dimension reports the configured vector width.
func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimensions
}

// ModelName reports the configured model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases resources held by the embedder.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func parseOpenAIEmbedError(statusCode int, body []byte) error {
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return fmt.Errorf("OpenAI API error (status %d): %s", statusCode, errorResp.Error.Message)
	}
	return fmt.Errorf("OpenAI API returned status %d: %s", statusCode, string(body))
}

var _ Embedder = (*OpenAIEmbedder)(nil)
