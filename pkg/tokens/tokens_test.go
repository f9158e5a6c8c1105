package tokens

import (
	"testing"

	"github.com/aidekit/aide/pkg/llms"
)

func TestNewCounter(t *testing.T) {
	for _, model := range []string{"gpt-4o-mini", "gpt-4", "claude-sonnet-4-20250514", "unknown-model"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewCounter(model)
			if err != nil {
				t.Fatalf("NewCounter(%q) failed: %v", model, err)
			}
			if counter.Model() != model {
				t.Errorf("Model() = %q, want %q", counter.Model(), model)
			}
		})
	}
}

func TestCount(t *testing.T) {
	counter, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty string", "", 0, 0},
		{"simple sentence", "Hello, world!", 3, 5},
		{"longer text", "This is a longer sentence with more words to count tokens accurately.", 12, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := counter.Count(tt.text)
			if count < tt.min || count > tt.max {
				t.Errorf("Count(%q) = %d, want between %d and %d", tt.text, count, tt.min, tt.max)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	counter, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	// Reply priming alone
	if got := counter.CountMessages(nil); got != 3 {
		t.Errorf("CountMessages(nil) = %d, want 3", got)
	}

	conversation := []llms.Message{
		llms.UserMessage("What is AI?"),
		llms.AssistantMessage("AI stands for Artificial Intelligence."),
		llms.UserMessage("Tell me more."),
	}
	count := counter.CountMessages(conversation)
	if count < 15 || count > 30 {
		t.Errorf("CountMessages() = %d, want between 15 and 30", count)
	}
}

func TestFit(t *testing.T) {
	counter, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	messages := []llms.Message{
		llms.UserMessage("Message one"),
		llms.AssistantMessage("Response one"),
		llms.UserMessage("Message two"),
		llms.AssistantMessage("Response two"),
		llms.UserMessage("Message three"),
	}

	t.Run("tiny budget drops everything", func(t *testing.T) {
		if fitted := counter.Fit(messages, 5); len(fitted) != 0 {
			t.Errorf("got %d messages, want 0", len(fitted))
		}
	})

	t.Run("moderate budget keeps the most recent", func(t *testing.T) {
		fitted := counter.Fit(messages, 20)
		if len(fitted) == 0 || len(fitted) == len(messages) {
			t.Fatalf("got %d messages, want a strict subset", len(fitted))
		}
		if got := counter.CountMessages(fitted); got > 20 {
			t.Errorf("fitted history counts %d tokens, over budget", got)
		}
		// The fitted history is the newest contiguous suffix.
		offset := len(messages) - len(fitted)
		for i := range fitted {
			if fitted[i].Content != messages[offset+i].Content {
				t.Errorf("fitted[%d] = %q, want %q", i, fitted[i].Content, messages[offset+i].Content)
			}
		}
	})

	t.Run("large budget keeps everything", func(t *testing.T) {
		fitted := counter.Fit(messages, 1000)
		if len(fitted) != len(messages) {
			t.Fatalf("got %d messages, want %d", len(fitted), len(messages))
		}
		if fitted[0].Content != "Message one" || fitted[4].Content != "Message three" {
			t.Error("messages should stay in chronological order")
		}
	})
}

func TestEncodingCache(t *testing.T) {
	first, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	second, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	text := "cache check"
	if a, b := first.Count(text), second.Count(text); a != b {
		t.Errorf("cached counters disagree: %d vs %d", a, b)
	}
}

func TestNilCounterEstimates(t *testing.T) {
	var counter *Counter

	if got := counter.Count("testtest"); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := counter.CountMessages(nil); got != 3 {
		t.Errorf("CountMessages(nil) = %d, want 3", got)
	}
	if counter.Model() != "" {
		t.Errorf("Model() = %q, want empty", counter.Model())
	}

	messages := []llms.Message{
		llms.UserMessage("an older message with enough words to cost something"),
		llms.UserMessage("newest"),
	}
	fitted := counter.Fit(messages, 12)
	if len(fitted) != 1 || fitted[0].Content != "newest" {
		t.Errorf("Fit = %+v, want just the newest message", fitted)
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"test", 1},
		{"testtest", 2},
		{"hellohello", 2},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
