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

// Package embedders turns text into vectors for semantic retrieval.
//
// Two providers are supported: the OpenAI embeddings API (batched,
// with rate-limit-aware retries) and a local Ollama server. The
// knowledge layer consumes either through the Embedder interface and
// never sees provider wire formats.
package embedders

import (
	"context"
	"fmt"

	"github.com/aidekit/aide/pkg/config"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts one text into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vectors, preserving
	// input order. Cheaper than calling Embed in a loop for
	// providers with a batch endpoint.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector width this embedder produces.
	// Vector store collections must be created with the same width.
	Dimension() int

	// ModelName reports the underlying model identifier.
	ModelName() string

	// Close releases any resources held by the embedder.
	Close() error
}

// New builds an embedder from configuration.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	switch cfg.Provider {
	case config.EmbedderProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case config.EmbedderProviderOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider %q (supported: openai, ollama)", cfg.Provider)
	}
}
