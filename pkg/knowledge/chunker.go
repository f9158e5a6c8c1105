package knowledge

import "strings"

const (
	defaultChunkSize    = 1200
	defaultChunkOverlap = 200
)

// chunkText splits content into chunks of roughly size bytes without
// breaking lines. Consecutive chunks share up to overlap bytes of
// whole trailing lines so sentences spanning a boundary stay
// retrievable from both sides.
func chunkText(content string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	if len(content) <= size {
		if trimmed := strings.TrimSpace(content); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	// Strip the final newline so a trailing empty artifact line cannot
	// inflate the tail past the seeded overlap.
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	var chunks []string
	emit := func(chunk string) {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	var current strings.Builder
	chunkStart := 0 // index into lines where the current chunk begins
	seeded := 0     // bytes of current carried over from the previous chunk

	for i, line := range lines {
		current.WriteString(line)
		current.WriteString("\n")

		if current.Len() < size {
			continue
		}
		emit(current.String())

		// Walk backwards collecting whole lines for the overlap.
		// The bound at chunkStart keeps a run of short lines from
		// re-seeding content that never advances.
		current.Reset()
		seeded = 0
		start := i + 1
		for j := i; j >= chunkStart && seeded+len(lines[j])+1 <= overlap; j-- {
			seeded += len(lines[j]) + 1
			start = j
		}
		for j := start; j <= i; j++ {
			current.WriteString(lines[j])
			current.WriteString("\n")
		}
		chunkStart = start
	}

	// A tail holding nothing beyond the seeded overlap is already
	// covered by the previous chunk.
	if current.Len() > seeded {
		emit(current.String())
	}
	return chunks
}
