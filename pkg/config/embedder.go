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

// EmbedderProvider identifies the embedding provider type.
type EmbedderProvider string

const (
	EmbedderProviderOpenAI EmbedderProvider = "openai"
	EmbedderProviderOllama EmbedderProvider = "ollama"
)

// EmbedderConfig configures a text embedding provider.
//
// Example:
//
//	embedder:
//	  provider: ollama
//	  model: nomic-embed-text
//	  base_url: http://localhost:11434
type EmbedderConfig struct {
	// Provider type (openai, ollama).
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Embedding provider,enum=openai,enum=ollama,default=ollama"`

	// Model name (e.g., "text-embedding-3-small", "nomic-embed-text").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Embedding model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Dimensions of the produced vectors. Must match the vector store
	// collection. Default depends on the model.
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty" jsonschema:"title=Dimensions,description=Embedding vector dimensions"`

	// Timeout bounds a single embedding request.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Request timeout,default=60s"`
}

// SetDefaults applies default values to EmbedderConfig.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOpenAI:
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.APIKey == "" && c.Provider == EmbedderProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" && c.Provider == EmbedderProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Dimensions == 0 {
		switch c.Model {
		case "text-embedding-3-small":
			c.Dimensions = 1536
		case "text-embedding-3-large":
			c.Dimensions = 3072
		case "nomic-embed-text":
			c.Dimensions = 768
		}
	}
	if c.Timeout.Duration() == 0 {
		c.Timeout = Duration(60 * time.Second)
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderProviderOpenAI, EmbedderProviderOllama:
	case "":
		return fmt.Errorf("embedder provider is required")
	default:
		return fmt.Errorf("unsupported embedder provider %q (valid: openai, ollama)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("embedder model is required")
	}

	if c.Dimensions < 0 {
		return fmt.Errorf("embedder dimensions must not be negative")
	}

	return nil
}
