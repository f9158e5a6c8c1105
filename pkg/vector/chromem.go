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

package vector

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/aidekit/aide/pkg/config"
)

// ChromemProvider stores vectors in-process with chromem-go.
//
// All vectors live in RAM; a configured path adds write-through file
// persistence. Single process only, which is exactly the edge-box
// deployment this serves.
type ChromemProvider struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemProvider creates an embedded vector store. With an empty
// path the store is memory only.
func NewChromemProvider(cfg *config.VectorConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemProvider{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	// Vectors arrive pre-computed, so the embedding func must never run.
	col, err := p.db.GetOrCreateCollection(name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem asked to embed %q but vectors are pre-computed", text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %q: %w", name, err)
	}

	p.collections[name] = col
	return col, nil
}

// Upsert adds or replaces documents in a collection.
func (p *ChromemProvider) Upsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	col, err := p.getCollection(index)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprint(v)
		}

		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  metadata,
			Embedding: doc.Vector,
		})
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	return nil
}

// Query returns the topK most similar documents in a collection.
func (p *ChromemProvider) Query(ctx context.Context, index string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	col, err := p.getCollection(index)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}

		matches = append(matches, Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: metadata,
		})
	}

	return matches, nil
}

// DeleteIndex removes a collection and all its documents.
func (p *ChromemProvider) DeleteIndex(ctx context.Context, index string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(index); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", index, err)
	}
	delete(p.collections, index)

	return nil
}

// Close is a no-op: persistent stores write through on every change.
func (p *ChromemProvider) Close() error {
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
