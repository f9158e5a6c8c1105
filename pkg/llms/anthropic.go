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

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	// promptCacheKeyHeader carries the derived request digest so a cache
	// or gateway in front of the API can deduplicate identical prompts.
	promptCacheKeyHeader = "X-Prompt-Cache-Key"
)

// AnthropicProvider implements Provider against the messages API.
type AnthropicProvider struct {
	config     *config.LLMConfig
	baseURL    string
	httpClient *httpclient.Client
}

type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      AnthropicUsage     `json:"usage"`
	Error      *AnthropicError    `json:"error,omitempty"`
}

type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicStreamEvent is the payload of a single data: line. The event
// kind is repeated in the JSON type field, so the event: lines can be
// skipped entirely.
type AnthropicStreamEvent struct {
	Type    string             `json:"type"`
	Index   int                `json:"index,omitempty"`
	Delta   *AnthropicDelta    `json:"delta,omitempty"`
	Message *AnthropicResponse `json:"message,omitempty"`
	Usage   *AnthropicUsage    `json:"usage,omitempty"`
	Error   *AnthropicError    `json:"error,omitempty"`
}

type AnthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProvider(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &AnthropicProvider{
		config:     cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newProviderHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	request := p.buildRequest(messages, false)

	response, err := p.makeRequest(ctx, request, p.cacheKeyFor(messages))
	if err != nil {
		return "", 0, err
	}

	if response.Error != nil {
		return "", 0, fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	return text.String(), response.Usage.InputTokens + response.Usage.OutputTokens, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true)
	cacheKey := p.cacheKeyFor(messages)

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)

		if err := p.makeStreamingRequest(ctx, request, cacheKey, chunks); err != nil {
			chunks <- StreamChunk{Type: ChunkError, Error: err}
		}
	}()

	return chunks, nil
}

// buildRequest converts the conversation to messages API shape. System
// messages move to the top-level system field; the API only accepts user
// and assistant roles in the message list.
func (p *AnthropicProvider) buildRequest(messages []Message, stream bool) AnthropicRequest {
	var systemParts []string
	anthropicMessages := make([]AnthropicMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}

		anthropicMessages = append(anthropicMessages, AnthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return AnthropicRequest{
		Model:       p.config.Model,
		Messages:    anthropicMessages,
		MaxTokens:   p.config.MaxTokens,
		System:      strings.Join(systemParts, "\n\n"),
		Temperature: p.config.Temperature,
		Stream:      stream,
	}
}

// cacheKeyFor digests the full conversation, system messages included, so
// the key matches what other providers would derive for the same context.
func (p *AnthropicProvider) cacheKeyFor(messages []Message) string {
	if !config.BoolValue(p.config.PromptCacheKey, true) {
		return ""
	}
	return promptCacheKey(p.config.Model, messages)
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request AnthropicRequest, cacheKey string) (*http.Request, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	if cacheKey != "" {
		req.Header.Set(promptCacheKeyHeader, cacheKey)
	}

	return req, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request AnthropicRequest, cacheKey string) (*AnthropicResponse, error) {
	req, err := p.newRequest(ctx, request, cacheKey)
	if err != nil {
		return nil, err
	}

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
		return nil, fmt.Errorf("Anthropic API error (HTTP %d): %s", resp.StatusCode, parseAnthropicError(body))
	}

	var response AnthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request AnthropicRequest, cacheKey string, chunks chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request, cacheKey)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Anthropic API error (HTTP %d): %s", resp.StatusCode, parseAnthropicError(body))
	}

	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		var event AnthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to decode streaming event: %w", err)
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				chunks <- StreamChunk{Type: ChunkText, Text: event.Delta.Text}
			}

		case "message_delta":
			// Cumulative output count, resent with every delta.
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			chunks <- StreamChunk{Type: ChunkDone, Tokens: inputTokens + outputTokens}
			return nil

		case "error":
			if event.Error != nil {
				return fmt.Errorf("Anthropic API error: %s", event.Error.Message)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}

	return nil
}

// parseAnthropicError pulls the message out of the documented error
// envelope, falling back to the raw body for anything else.
func parseAnthropicError(body []byte) string {
	var errResp struct {
		Error *AnthropicError `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}

var _ Provider = (*AnthropicProvider)(nil)
