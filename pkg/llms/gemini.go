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

package llms

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/aidekit/aide/pkg/config"
)

// GeminiProvider implements Provider on the official genai SDK. The SDK
// owns transport and retries, so this provider does not go through
// pkg/httpclient like the REST providers do.
type GeminiProvider struct {
	config *config.LLMConfig
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout.Duration(),
		},
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	contents, genConfig := p.buildRequest(messages)

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	if err != nil {
		return "", 0, fmt.Errorf("Gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", 0, fmt.Errorf("no candidates in Gemini response")
	}

	var text strings.Builder
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return text.String(), tokens, nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages)

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)

		totalTokens := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
			if err != nil {
				chunks <- StreamChunk{Type: ChunkError, Error: fmt.Errorf("Gemini streaming error: %w", err)}
				return
			}

			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					chunks <- StreamChunk{Type: ChunkText, Text: part.Text}
				}
			}
		}

		chunks <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
	}()

	return chunks, nil
}

// buildRequest converts the conversation to SDK shape. System messages
// become the system instruction; assistant turns map to the model role.
func (p *GeminiProvider) buildRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	genConfig := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		genConfig.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	return contents, genConfig
}

var _ Provider = (*GeminiProvider)(nil)
