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
)

// VectorProvider identifies the vector store type.
type VectorProvider string

const (
	VectorProviderChromem  VectorProvider = "chromem"
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderPinecone VectorProvider = "pinecone"
)

// VectorConfig configures the vector store used for knowledge search.
//
// Example:
//
//	vector:
//	  provider: chromem
//	  collection: aide-knowledge
//	  path: ./data/vectors
type VectorConfig struct {
	// Provider type (chromem, qdrant, pinecone).
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Vector store provider,enum=chromem,enum=qdrant,enum=pinecone,default=chromem"`

	// Collection holds the vectors. Created on first use when the
	// backend supports it.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"title=Collection,description=Collection name,default=aide-knowledge"`

	// Host of the vector store (qdrant). Format: host:port.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Vector store host (qdrant)"`

	// APIKey for managed backends (qdrant cloud, pinecone).
	// Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for managed backends (use ${ENV_VAR})"`

	// UseTLS enables TLS for the qdrant gRPC connection. Managed
	// qdrant requires it.
	UseTLS bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS,description=Enable TLS for the vector store connection (qdrant)"`

	// Path is the on-disk location for embedded backends (chromem).
	// Empty keeps the store in memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=On-disk location for embedded backends"`

	// Namespace partitions a shared index (pinecone).
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty" jsonschema:"title=Namespace,description=Index namespace (pinecone)"`
}

// SetDefaults applies default values to VectorConfig.
func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorProviderChromem
	}
	if c.Collection == "" {
		c.Collection = "aide-knowledge"
	}
	if c.Host == "" && c.Provider == VectorProviderQdrant {
		c.Host = "localhost:6334"
	}
	if c.APIKey == "" && c.Provider == VectorProviderPinecone {
		c.APIKey = os.Getenv("PINECONE_API_KEY")
	}
}

// Validate checks the vector store configuration.
func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case VectorProviderChromem, VectorProviderQdrant, VectorProviderPinecone:
	case "":
		return fmt.Errorf("vector provider is required")
	default:
		return fmt.Errorf("unsupported vector provider %q (valid: chromem, qdrant, pinecone)", c.Provider)
	}

	if c.Collection == "" {
		return fmt.Errorf("vector collection is required")
	}

	if c.Provider == VectorProviderQdrant && c.Host == "" {
		return fmt.Errorf("vector host is required for qdrant")
	}

	if c.Provider == VectorProviderPinecone && c.APIKey == "" {
		return fmt.Errorf("vector api_key is required for pinecone")
	}

	return nil
}
