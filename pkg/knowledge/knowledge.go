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

// Package knowledge answers semantic questions over seeded documents.
//
// The Searcher embeds query text and runs similarity search against
// the vector store, memoizing results in the shared traffic cache so
// bursts of identical lookups cost one embedding and one vector query.
// The Seeder ingests files (pdf, docx, xlsx, txt, md, json), chunks
// them, and writes embedded chunks to the store.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/embedders"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/vector"
)

type settings struct {
	recorder observability.Recorder
	tracer   *observability.Tracer
	logger   *slog.Logger
}

func defaultSettings() settings {
	return settings{
		recorder: observability.NoopMetrics{},
		logger:   slog.Default(),
	}
}

// Option configures a Searcher or Seeder.
type Option func(*settings)

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer enables span emission for searches and seeding runs.
func WithTracer(t *observability.Tracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// QueryOptions tunes a single search.
type QueryOptions struct {
	// TopK overrides the configured match count when positive.
	TopK int `json:"top_k,omitempty"`

	// Filter restricts hits to documents whose metadata matches
	// every key.
	Filter map[string]any `json:"filter,omitempty"`
}

// Searcher runs cached semantic queries against the vector store.
//
// Safe for concurrent use.
type Searcher struct {
	embedder embedders.Embedder
	store    vector.Provider
	cache    *cache.ResultCache
	topK     int

	settings
}

// NewSearcher creates a Searcher. resultCache is the shared traffic
// cache; queries are memoized there under canonical keys.
func NewSearcher(embedder embedders.Embedder, store vector.Provider, resultCache *cache.ResultCache, cfg *config.KnowledgeConfig, opts ...Option) *Searcher {
	topK := 5
	if cfg != nil && cfg.TopK > 0 {
		topK = cfg.TopK
	}

	s := &Searcher{
		embedder: embedder,
		store:    store,
		cache:    resultCache,
		topK:     topK,
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Query embeds text and returns the most similar documents in one
// index. Identical queries within the cache TTL are served from the
// cache without touching the embedder or the store.
func (s *Searcher) Query(ctx context.Context, index, text string, opts QueryOptions) ([]vector.Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}

	ctx, span := s.tracer.StartKnowledgeSearch(ctx, index, text, topK)
	defer span.End()

	key := cache.Key("knowledge.query", struct {
		Index  string         `json:"index"`
		Text   string         `json:"text"`
		TopK   int            `json:"top_k"`
		Filter map[string]any `json:"filter,omitempty"`
	}{Index: index, Text: text, TopK: topK, Filter: opts.Filter})

	matches, err := cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]vector.Match, error) {
		start := time.Now()

		queryVector, err := s.embed(ctx, text)
		if err != nil {
			return nil, err
		}

		matches, err := s.store.Query(ctx, index, queryVector, topK, opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("knowledge query on %q: %w", index, err)
		}

		s.recorder.RecordKnowledgeSearch(index, time.Since(start), len(matches))
		return matches, nil
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}
	s.tracer.AddSearchResults(span, len(matches))
	return matches, nil
}

// embed converts query text to a vector under its own span.
func (s *Searcher) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := s.tracer.StartEmbed(ctx, s.embedder.ModelName(), 1)
	defer span.End()

	queryVector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return queryVector, nil
}

// Context gathers the best matches across indexes and formats them as
// a prompt block, best match first. The query text is embedded once
// and reused for every index. Returns "" when nothing matches.
func (s *Searcher) Context(ctx context.Context, text string, indexes []string) (string, error) {
	if len(indexes) == 0 || strings.TrimSpace(text) == "" {
		return "", nil
	}

	ctx, span := s.tracer.StartKnowledgeSearch(ctx, strings.Join(indexes, ","), text, s.topK)
	defer span.End()

	key := cache.Key("knowledge.context", struct {
		Text    string   `json:"text"`
		Indexes []string `json:"indexes"`
	}{Text: text, Indexes: indexes})

	block, err := cache.Fetch(ctx, s.cache, key, func(ctx context.Context) (string, error) {
		queryVector, err := s.embed(ctx, text)
		if err != nil {
			return "", err
		}

		var merged []vector.Match
		for _, index := range indexes {
			start := time.Now()
			matches, err := s.store.Query(ctx, index, queryVector, s.topK, nil)
			if err != nil {
				return "", fmt.Errorf("knowledge query on %q: %w", index, err)
			}
			s.recorder.RecordKnowledgeSearch(index, time.Since(start), len(matches))
			merged = append(merged, matches...)
		}

		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Score > merged[j].Score
		})
		if len(merged) > s.topK {
			merged = merged[:s.topK]
		}

		return formatContext(merged), nil
	})
	if err != nil {
		s.tracer.RecordError(span, err)
	}
	return block, err
}

// formatContext renders matches as a source-attributed text block.
func formatContext(matches []vector.Match) string {
	var b strings.Builder
	for _, match := range matches {
		content := strings.TrimSpace(match.Content)
		if content == "" {
			continue
		}
		if source, ok := match.Metadata["source"].(string); ok && source != "" {
			fmt.Fprintf(&b, "[%s]\n", source)
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
