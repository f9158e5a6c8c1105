package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTextHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{writer: &buf, level: slog.LevelInfo})

	log.Info("server started", "port", 8080)

	out := buf.String()
	if !strings.HasPrefix(out, "INFO server started") {
		t.Errorf("unexpected output prefix: %q", out)
	}
	if !strings.Contains(out, "port=8080") {
		t.Errorf("missing attribute in output: %q", out)
	}

	buf.Reset()
	log.Debug("quiet")
	if buf.Len() != 0 {
		t.Errorf("debug record should be dropped at info level, got %q", buf.String())
	}
}

func TestTextHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{writer: &buf, level: slog.LevelInfo})

	log.With("room", "standup").Info("message stored", "bytes", 42)

	out := buf.String()
	if !strings.Contains(out, "room=standup") {
		t.Errorf("With attribute missing from output: %q", out)
	}
	if !strings.Contains(out, "bytes=42") {
		t.Errorf("record attribute missing from output: %q", out)
	}
}

func TestTextHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{writer: &buf, level: slog.LevelInfo})

	log.WithGroup("traffic").Info("limited", "bucket", "chat")

	if out := buf.String(); !strings.Contains(out, "traffic.bucket=chat") {
		t.Errorf("group-qualified key missing from output: %q", out)
	}
}

func TestInitWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(slog.LevelInfo, &buf, "json", false)

	GetLogger().Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}
