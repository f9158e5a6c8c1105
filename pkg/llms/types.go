// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llms provides chat completion providers for Anthropic, OpenAI,
// and Gemini behind a single Provider interface. The REST providers share
// the retrying HTTP client from pkg/httpclient; Gemini goes through the
// official google.golang.org/genai SDK.
package llms

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/httpclient"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of conversation context sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage builds a user-role message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// Stream chunk types.
const (
	ChunkText  = "text"
	ChunkDone  = "done"
	ChunkError = "error"
)

// StreamChunk is one increment of a streaming response. Text chunks carry
// generated text; the final done chunk carries the total token count when
// the provider reports usage.
type StreamChunk struct {
	Type   string
	Text   string
	Tokens int
	Error  error
}

// Provider generates chat completions. Implementations are safe for
// concurrent use.
type Provider interface {
	// Generate performs a blocking completion request and returns the
	// generated text and the total tokens consumed.
	Generate(ctx context.Context, messages []Message) (string, int, error)

	// GenerateStreaming streams the completion incrementally. The channel
	// is closed after the final done or error chunk.
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	ModelName() string

	Close() error
}

// promptCacheKey derives the deterministic digest attached to outbound
// requests so provider-side prompt caches can deduplicate identical
// contexts. Returns "" when the shape cannot be serialized; the request
// is then sent without a key.
func promptCacheKey(model string, messages []Message) string {
	return cache.DeriveKey(struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}{Model: model, Messages: messages})
}

// newProviderHTTPClient builds the retrying HTTP client shared by the REST
// providers, honoring the configured timeout, retry budget, and TLS options.
func newProviderHTTPClient(cfg *config.LLMConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
		httpclient.WithMaxRetries(cfg.Retries),
		httpclient.WithHeaderParser(parser),
	}

	insecure := config.BoolValue(cfg.InsecureSkipVerify, false)
	if insecure || cfg.CACertificate != "" {
		if insecure {
			slog.Warn("TLS certificate verification disabled for LLM provider", "provider", cfg.Provider)
		}
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: insecure,
			CACertificate:      cfg.CACertificate,
		}))
	}

	return httpclient.New(opts...)
}
