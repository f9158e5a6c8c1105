package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/embedders"
	"github.com/aidekit/aide/pkg/vector"
)

// seedBatchSize is how many chunks go to the embedder per request.
const seedBatchSize = 64

// Document is a named piece of text to ingest.
type Document struct {
	// Source identifies where the text came from, usually a file
	// path relative to the seeded directory. It is stored in chunk
	// metadata and shown in search results.
	Source string `json:"source"`

	// Content is the full text.
	Content string `json:"content"`
}

// SeedResult summarizes one seeding run.
type SeedResult struct {
	// Files is how many documents produced at least one chunk.
	Files int `json:"files"`

	// Chunks is how many chunks were embedded and stored.
	Chunks int `json:"chunks"`

	// Skipped counts documents that produced nothing, either
	// oversized files or empty content.
	Skipped int `json:"skipped"`

	// Failures counts files that could not be parsed.
	Failures int `json:"failures"`
}

// Seeder ingests documents into a vector index.
type Seeder struct {
	embedder     embedders.Embedder
	store        vector.Provider
	chunkSize    int
	chunkOverlap int
	maxFileBytes int64
	extensions   map[string]bool
	concurrency  int

	settings
}

// NewSeeder creates a Seeder.
func NewSeeder(embedder embedders.Embedder, store vector.Provider, cfg *config.KnowledgeConfig, opts ...Option) *Seeder {
	resolved := config.KnowledgeConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	resolved.SetDefaults()

	extensions := make(map[string]bool, len(resolved.Extensions))
	for _, ext := range resolved.Extensions {
		extensions[strings.ToLower(ext)] = true
	}

	s := &Seeder{
		embedder:     embedder,
		store:        store,
		chunkSize:    resolved.ChunkSize,
		chunkOverlap: resolved.ChunkOverlap,
		maxFileBytes: int64(resolved.MaxFileSizeMB) * 1024 * 1024,
		extensions:   extensions,
		concurrency:  resolved.EmbedConcurrency,
		settings:     defaultSettings(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// SeedDirectory walks dir and ingests every file with a supported
// extension into index. Oversized files are skipped and parse
// failures are logged; neither stops the run.
func (s *Seeder) SeedDirectory(ctx context.Context, index, dir string) (*SeedResult, error) {
	result := &SeedResult{}
	var docs []Document

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.maxFileBytes {
			s.logger.Warn("Skipping oversized file", "path", path, "size", info.Size())
			s.recorder.RecordKnowledgeDocument(index, "skipped")
			result.Skipped++
			return nil
		}

		content, err := parseFile(ctx, path)
		if err != nil {
			s.logger.Warn("Failed to parse file", "path", path, "error", err)
			s.recorder.RecordKnowledgeDocument(index, "failed")
			result.Failures++
			return nil
		}

		source := path
		if rel, err := filepath.Rel(dir, path); err == nil {
			source = rel
		}
		docs = append(docs, Document{Source: source, Content: content})
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	seeded, err := s.SeedDocuments(ctx, index, docs)
	result.Files = seeded.Files
	result.Chunks = seeded.Chunks
	result.Skipped += seeded.Skipped
	result.Failures += seeded.Failures
	return result, err
}

// SeedDocuments chunks, embeds, and stores docs in index. Embedding
// runs in bounded parallel batches. Chunk ids are derived from the
// source, so re-seeding a document overwrites its chunks rather than
// duplicating them.
func (s *Seeder) SeedDocuments(ctx context.Context, index string, docs []Document) (*SeedResult, error) {
	ctx, span := s.tracer.StartKnowledgeIndex(ctx, index, len(docs))
	defer span.End()

	result := &SeedResult{}
	var pending []vector.Document

	for _, doc := range docs {
		chunks := chunkText(doc.Content, s.chunkSize, s.chunkOverlap)
		if len(chunks) == 0 {
			s.recorder.RecordKnowledgeDocument(index, "skipped")
			result.Skipped++
			continue
		}
		for i, chunk := range chunks {
			pending = append(pending, vector.Document{
				ID:      chunkID(doc.Source, i),
				Content: chunk,
				Metadata: map[string]any{
					"source": doc.Source,
					"chunk":  i,
				},
			})
		}
		s.recorder.RecordKnowledgeDocument(index, "seeded")
		result.Files++
		result.Chunks += len(chunks)
	}

	if len(pending) == 0 {
		return result, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	for start := 0; start < len(pending); start += seedBatchSize {
		end := min(start+seedBatchSize, len(pending))
		batch := pending[start:end]

		group.Go(func() error {
			texts := make([]string, len(batch))
			for i, doc := range batch {
				texts[i] = doc.Content
			}

			batchCtx, embedSpan := s.tracer.StartEmbed(groupCtx, s.embedder.ModelName(), len(texts))
			vectors, err := s.embedder.EmbedBatch(batchCtx, texts)
			embedSpan.End()
			if err != nil {
				return fmt.Errorf("failed to embed chunks: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}

			return s.store.Upsert(groupCtx, index, batch)
		})
	}

	if err := group.Wait(); err != nil {
		s.tracer.RecordError(span, err)
		return result, err
	}
	s.tracer.AddIndexStats(span, result.Chunks)

	s.logger.Info("Seeded knowledge index",
		"index", index,
		"files", result.Files,
		"chunks", result.Chunks,
		"skipped", result.Skipped,
		"failures", result.Failures)
	return result, nil
}

// chunkID derives a stable UUID for a chunk. Stores such as qdrant
// accept only UUID point ids, and a deterministic id means seeding
// the same source twice overwrites rather than duplicates.
func chunkID(source string, index int) string {
	name := fmt.Sprintf("%s#%d", source, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
