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

package config

import "fmt"

// ChatConfig configures chat turn orchestration.
//
// Example:
//
//	chat:
//	  system_prompt: "You are a helpful assistant."
//	  context_token_budget: 8192
//	  knowledge_indexes: [docs, faq]
type ChatConfig struct {
	// LLM references a named entry in the llms section.
	// Defaults to the only configured LLM.
	LLM string `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=Named LLM reference"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty" jsonschema:"title=System Prompt,description=Prompt prepended to every conversation"`

	// ContextTokenBudget caps the tokens of history sent to the model.
	// Older messages are dropped first to fit.
	ContextTokenBudget int `yaml:"context_token_budget,omitempty" json:"context_token_budget,omitempty" jsonschema:"title=Context Token Budget,description=Token cap for history sent to the model,default=8192"`

	// KnowledgeIndexes lists vector indexes consulted for context
	// before each turn. Empty disables the lookup.
	KnowledgeIndexes []string `yaml:"knowledge_indexes,omitempty" json:"knowledge_indexes,omitempty" jsonschema:"title=Knowledge Indexes,description=Vector indexes consulted for context"`

	// Stream sends response chunks as they arrive. On by default.
	Stream *bool `yaml:"stream,omitempty" json:"stream,omitempty" jsonschema:"title=Stream,description=Stream response chunks,default=true"`
}

// SetDefaults applies default values to ChatConfig.
func (c *ChatConfig) SetDefaults() {
	if c.ContextTokenBudget == 0 {
		c.ContextTokenBudget = 8192
	}
	if c.Stream == nil {
		c.Stream = BoolPtr(true)
	}
}

// Validate checks the chat configuration.
func (c *ChatConfig) Validate() error {
	if c.ContextTokenBudget < 0 {
		return fmt.Errorf("chat context_token_budget must not be negative")
	}
	return nil
}
