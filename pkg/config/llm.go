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

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
)

// LLMConfig configures an LLM provider.
//
// Example:
//
//	llm:
//	  provider: anthropic
//	  model: claude-sonnet-4-20250514
//	  api_key: ${ANTHROPIC_API_KEY}
//	  temperature: 0.7
//	  max_tokens: 4096
type LLMConfig struct {
	// Provider type (anthropic, openai, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=anthropic,enum=openai,enum=gemini,default=anthropic"`

	// Model name (e.g., "claude-sonnet-4-20250514", "gpt-4o-mini").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// InsecureSkipVerify disables TLS certificate verification on
	// upstream calls. Development only.
	InsecureSkipVerify *bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"title=Insecure Skip Verify,description=Disable TLS certificate verification (development only),default=false"`

	// CACertificate is a path to a PEM file with extra trusted roots,
	// for providers behind private gateways.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"title=CA Certificate,description=Path to a PEM file with additional trusted CA roots"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=4096"`

	// PromptCacheKey attaches a deterministic cache key to outbound
	// requests so provider-side prompt caches can dedupe identical
	// contexts. On by default.
	PromptCacheKey *bool `yaml:"prompt_cache_key,omitempty" json:"prompt_cache_key,omitempty" jsonschema:"title=Prompt Cache Key,description=Attach deterministic cache key to requests,default=true"`

	// Timeout bounds a single completion request.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Request timeout,default=120s"`

	// Retries is how many times transient failures are retried.
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty" jsonschema:"title=Retries,description=Retry count for transient failures,default=2"`
}

// SetDefaults applies default values to LLMConfig.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}
	if c.Model == "" {
		c.Model = defaultModelForProvider(c.Provider)
	}
	if c.APIKey == "" {
		c.APIKey = providerAPIKeyFromEnv(c.Provider)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.PromptCacheKey == nil {
		c.PromptCacheKey = BoolPtr(true)
	}
	if c.Timeout.Duration() == 0 {
		c.Timeout = Duration(120 * time.Second)
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderAnthropic, LLMProviderOpenAI, LLMProviderGemini:
	case "":
		return fmt.Errorf("llm provider is required")
	default:
		return fmt.Errorf("unsupported llm provider %q (valid: anthropic, openai, gemini)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("llm temperature %v out of range [0, 2]", *c.Temperature)
	}

	if c.MaxTokens < 0 {
		return fmt.Errorf("llm max_tokens must not be negative")
	}

	if c.Retries < 0 {
		return fmt.Errorf("llm retries must not be negative")
	}

	return nil
}

// detectProviderFromEnv picks a provider based on which API keys are
// present in the environment. Checked in order of preference.
func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return LLMProviderGemini
	}
	return LLMProviderAnthropic
}

// defaultModelForProvider returns a sensible default model.
func defaultModelForProvider(provider LLMProvider) string {
	switch provider {
	case LLMProviderOpenAI:
		return "gpt-4o-mini"
	case LLMProviderGemini:
		return "gemini-2.0-flash"
	default:
		return "claude-sonnet-4-20250514"
	}
}

// providerAPIKeyFromEnv returns the conventional environment API key
// for a provider, or "" when unset.
func providerAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}
