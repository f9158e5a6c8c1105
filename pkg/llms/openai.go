package llms

import (
	"bufio"
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

// OpenAIProvider implements Provider against the chat completions API.
type OpenAIProvider struct {
	config     *config.LLMConfig
	baseURL    string
	httpClient *httpclient.Client
}

type OpenAIRequest struct {
	Model          string               `json:"model"`
	Messages       []OpenAIMessage      `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    *float64             `json:"temperature,omitempty"`
	Stream         bool                 `json:"stream,omitempty"`
	StreamOptions  *OpenAIStreamOptions `json:"stream_options,omitempty"`
	PromptCacheKey string               `json:"prompt_cache_key,omitempty"`
}

type OpenAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIStreamResponse struct {
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
}

type OpenAIStreamChoice struct {
	Delta        OpenAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type OpenAIDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &OpenAIProvider{
		config:     cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newProviderHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	request := p.buildRequest(messages, false)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return "", 0, err
	}

	if len(response.Choices) == 0 {
		return "", 0, fmt.Errorf("no choices in OpenAI response")
	}

	return response.Choices[0].Message.Content, response.Usage.TotalTokens, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true)

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)

		if err := p.makeStreamingRequest(ctx, request, chunks); err != nil {
			chunks <- StreamChunk{Type: ChunkError, Error: err}
		}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, stream bool) OpenAIRequest {
	request := OpenAIRequest{
		Model:       p.config.Model,
		Messages:    make([]OpenAIMessage, 0, len(messages)),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		Stream:      stream,
	}

	for _, msg := range messages {
		request.Messages = append(request.Messages, OpenAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	if config.BoolValue(p.config.PromptCacheKey, true) {
		request.PromptCacheKey = promptCacheKey(p.config.Model, messages)
	}

	if stream {
		// The API only sends the final usage frame when asked for it.
		request.StreamOptions = &OpenAIStreamOptions{IncludeUsage: true}
	}

	return request
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request OpenAIRequest) (*OpenAIResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI API error (HTTP %d): %s", resp.StatusCode, parseOpenAIError(body))
	}

	var response OpenAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request OpenAIRequest, chunks chan<- StreamChunk) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("OpenAI API error (HTTP %d): %s", resp.StatusCode, parseOpenAIError(body))
	}

	var totalTokens int

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		text := strings.TrimSpace(string(line))
		if !strings.HasPrefix(text, "data: ") {
			continue
		}

		data := strings.TrimPrefix(text, "data: ")
		if data == "[DONE]" {
			break
		}

		var streamResp OpenAIStreamResponse
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
			continue
		}

		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}

		if len(streamResp.Choices) > 0 && streamResp.Choices[0].Delta.Content != "" {
			chunks <- StreamChunk{Type: ChunkText, Text: streamResp.Choices[0].Delta.Content}
		}
	}

	chunks <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
	return nil
}

// parseOpenAIError pulls the message out of the documented error envelope,
// falling back to the raw body for anything else.
func parseOpenAIError(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}

var _ Provider = (*OpenAIProvider)(nil)
