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

// KnowledgeConfig configures knowledge search and document seeding.
//
// Example:
//
//	knowledge:
//	  top_k: 5
//	  chunk_size: 1200
//	  extensions: [.txt, .md, .pdf]
type KnowledgeConfig struct {
	// TopK is how many matches a search returns by default.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"title=Top K,description=Default matches per search,default=5"`

	// ChunkSize is the target characters per document chunk.
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"title=Chunk Size,description=Target characters per chunk,default=1200"`

	// ChunkOverlap is how many characters adjacent chunks share.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Characters shared by adjacent chunks,default=200"`

	// MaxFileSizeMB skips files larger than this during seeding.
	MaxFileSizeMB int `yaml:"max_file_size_mb,omitempty" json:"max_file_size_mb,omitempty" jsonschema:"title=Max File Size MB,description=Skip larger files when seeding,default=20"`

	// Extensions lists file types the seeder ingests.
	Extensions []string `yaml:"extensions,omitempty" json:"extensions,omitempty" jsonschema:"title=Extensions,description=File types the seeder ingests"`

	// EmbedConcurrency caps parallel embedding batches during seeding.
	EmbedConcurrency int `yaml:"embed_concurrency,omitempty" json:"embed_concurrency,omitempty" jsonschema:"title=Embed Concurrency,description=Parallel embedding batches when seeding,default=4"`
}

// SetDefaults applies default values to KnowledgeConfig.
func (c *KnowledgeConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1200
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = 20
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".txt", ".md", ".json", ".pdf", ".docx", ".xlsx"}
	}
	if c.EmbedConcurrency == 0 {
		c.EmbedConcurrency = 4
	}
}

// Validate checks the knowledge configuration.
func (c *KnowledgeConfig) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("knowledge top_k must not be negative")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("knowledge chunk_size must not be negative")
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("knowledge chunk_overlap must not be negative")
	}
	if c.ChunkOverlap >= c.ChunkSize && c.ChunkSize > 0 {
		return fmt.Errorf("knowledge chunk_overlap must be smaller than chunk_size")
	}
	if c.EmbedConcurrency < 0 {
		return fmt.Errorf("knowledge embed_concurrency must not be negative")
	}
	return nil
}
