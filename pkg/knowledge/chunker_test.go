package knowledge

import (
	"fmt"
	"strings"
	"testing"
)

// numberedLines builds n lines of exactly 10 bytes each including
// the newline.
func numberedLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line %04d\n", i)
	}
	return b.String()
}

func TestChunkText_SmallContentSingleChunk(t *testing.T) {
	chunks := chunkText("hello world\n", 100, 20)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "hello world" {
		t.Errorf("expected trimmed content, got %q", chunks[0])
	}
}

func TestChunkText_EmptyContent(t *testing.T) {
	if chunks := chunkText("", 100, 20); chunks != nil {
		t.Errorf("expected no chunks for empty content, got %v", chunks)
	}
	if chunks := chunkText("  \n\n \n", 100, 20); chunks != nil {
		t.Errorf("expected no chunks for whitespace, got %v", chunks)
	}
}

func TestChunkText_NeverSplitsLines(t *testing.T) {
	chunks := chunkText(numberedLines(10), 30, 0)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %v", len(chunks), chunks)
	}
	for i, chunk := range chunks {
		for _, line := range strings.Split(chunk, "\n") {
			if len(line) != 9 || !strings.HasPrefix(line, "line ") {
				t.Errorf("chunk %d contains a partial line %q", i, line)
			}
		}
	}
}

func TestChunkText_OverlapSharesTrailingLines(t *testing.T) {
	chunks := chunkText(numberedLines(10), 30, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevLines := strings.Split(chunks[i-1], "\n")
		lastLine := prevLines[len(prevLines)-1]
		if !strings.HasPrefix(chunks[i], lastLine) {
			t.Errorf("chunk %d should begin with %q from its predecessor, got %q", i, lastLine, chunks[i])
		}
	}
}

func TestChunkText_TrailingOverlapNotReemitted(t *testing.T) {
	// The final flush lands exactly on the last line, leaving only
	// the seeded overlap behind. No extra chunk should appear.
	chunks := chunkText(numberedLines(5), 30, 10)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasSuffix(chunks[1], "line 0004") {
		t.Errorf("last chunk should end with the final line, got %q", chunks[1])
	}
}

func TestChunkText_LongLineKeptWhole(t *testing.T) {
	long := strings.Repeat("x", 500)
	chunks := chunkText(long+"\nshort\n", 100, 20)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != long {
		t.Errorf("long line was split: %d bytes", len(chunks[0]))
	}
	if chunks[1] != "short" {
		t.Errorf("expected short tail chunk, got %q", chunks[1])
	}
}

func TestChunkText_CoversAllLines(t *testing.T) {
	content := numberedLines(40)
	joined := strings.Join(chunkText(content, 100, 30), "\n")
	for i := 0; i < 40; i++ {
		needle := fmt.Sprintf("line %04d", i)
		if !strings.Contains(joined, needle) {
			t.Errorf("%s missing from chunks", needle)
		}
	}
}

func TestChunkText_DefaultsApplied(t *testing.T) {
	chunks := chunkText(strings.Repeat("a\n", 20), 0, -1)
	if len(chunks) != 1 {
		t.Errorf("expected default size to hold small content in one chunk, got %d", len(chunks))
	}
}
