package llms

import (
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		role Role
	}{
		{"system", SystemMessage("be brief"), RoleSystem},
		{"user", UserMessage("hello"), RoleUser},
		{"assistant", AssistantMessage("hi"), RoleAssistant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("Role = %v, want %v", tt.msg.Role, tt.role)
			}
			if tt.msg.Content == "" {
				t.Error("Content should carry the text")
			}
		})
	}
}

func TestPromptCacheKey_Deterministic(t *testing.T) {
	messages := []Message{
		SystemMessage("You are a helpful assistant."),
		UserMessage("Hello"),
	}

	first := promptCacheKey("gpt-4o-mini", messages)
	second := promptCacheKey("gpt-4o-mini", messages)

	if first == "" {
		t.Fatal("promptCacheKey() returned empty key")
	}
	if first != second {
		t.Errorf("same input produced different keys: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(first))
	}
}

func TestPromptCacheKey_SensitiveToContent(t *testing.T) {
	base := promptCacheKey("gpt-4o-mini", []Message{UserMessage("Hello")})
	changed := promptCacheKey("gpt-4o-mini", []Message{UserMessage("Hello!")})

	if base == changed {
		t.Error("different content should produce different keys")
	}
}

func TestPromptCacheKey_SensitiveToOrder(t *testing.T) {
	forward := promptCacheKey("gpt-4o-mini", []Message{
		UserMessage("first"),
		AssistantMessage("second"),
	})
	reversed := promptCacheKey("gpt-4o-mini", []Message{
		AssistantMessage("second"),
		UserMessage("first"),
	})

	if forward == reversed {
		t.Error("message order must be part of the key")
	}
}

func TestPromptCacheKey_SensitiveToModel(t *testing.T) {
	messages := []Message{UserMessage("Hello")}

	if promptCacheKey("gpt-4o-mini", messages) == promptCacheKey("gpt-4o", messages) {
		t.Error("model must be part of the key")
	}
}
