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

// Package tokens counts model tokens and fits message histories into a
// token budget.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/aidekit/aide/pkg/llms"
)

// Counter counts tokens with one model's encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// Encodings are cached process-wide; loading one can fetch a BPE
// dictionary over the network.
var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewCounter creates a counter for the model. Models without a known
// tiktoken encoding (Claude, Gemini) approximate with cl100k_base.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Framing tokens per message plus reply priming, per OpenAI's
// published counting scheme.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Count returns the token count for text. A nil Counter estimates.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return Estimate(text)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens in a message list, including the
// per-message framing overhead and the reply priming. A nil Counter
// estimates.
func (c *Counter) CountMessages(messages []llms.Message) int {
	if c == nil || c.encoding == nil {
		total := replyPriming
		for _, msg := range messages {
			total += tokensPerMessage + Estimate(string(msg.Role)) + Estimate(msg.Content)
		}
		return total
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(c.encoding.Encode(string(msg.Role), nil, nil))
		total += len(c.encoding.Encode(msg.Content, nil, nil))
	}

	// Every reply is primed with <|start|>assistant<|message|>
	total += replyPriming

	return total
}

// Fit returns the suffix of messages that fits within budget tokens,
// dropping the oldest first. The result can be empty when even the
// newest message exceeds the budget. A nil Counter fits by estimate.
func (c *Counter) Fit(messages []llms.Message, budget int) []llms.Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := make([]llms.Message, 0, len(messages))
	used := replyPriming

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := c.CountMessages(messages[i:i+1]) - replyPriming
		if used+msgTokens > budget {
			break
		}
		fitted = append(fitted, messages[i])
		used += msgTokens
	}

	// Reverse back to chronological order.
	for i, j := 0, len(fitted)-1; i < j; i, j = i+1, j-1 {
		fitted[i], fitted[j] = fitted[j], fitted[i]
	}
	return fitted
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Estimate roughly approximates the token count of text for call
// sites that could not build a Counter. Four characters per token.
func Estimate(text string) int {
	return len(text) / 4
}
