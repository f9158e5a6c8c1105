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

// Package vector stores embeddings and answers similarity queries.
//
// Three backends are supported behind one Provider interface: chromem
// (embedded, in-process, optional file persistence), Qdrant (gRPC)
// and Pinecone (managed). Chromem is the zero-config default and the
// only backend that needs no external service.
package vector

import "context"

// Document is a chunk of text plus its vector, ready for storage.
type Document struct {
	// ID uniquely identifies the document within its index.
	ID string

	// Vector is the embedding. All documents in an index must share
	// one dimension.
	Vector []float32

	// Content is the original text the vector was derived from.
	Content string

	// Metadata carries filterable attributes such as the source file.
	Metadata map[string]any
}

// Match is a similarity search hit, ordered best first.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Provider is a vector store backend.
type Provider interface {
	// Upsert adds or replaces documents in an index. Backends that
	// support it create the index on first use.
	Upsert(ctx context.Context, index string, docs []Document) error

	// Query returns the topK most similar documents. A non-empty
	// filter restricts hits to documents whose metadata matches
	// every key.
	Query(ctx context.Context, index string, vector []float32, topK int, filter map[string]any) ([]Match, error)

	// DeleteIndex removes an index and everything in it.
	DeleteIndex(ctx context.Context, index string) error

	// Close releases connections and flushes pending writes.
	Close() error
}
