package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aide.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoader_File_Load(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("TEST_API_KEY", "sk-from-env")

	configYAML := `
version: "1.0"
name: test-aide

llms:
  main:
    provider: openai
    model: gpt-4o-mini
    api_key: ${TEST_API_KEY}
    timeout: 90s

databases:
  main:
    driver: sqlite
    database: ":memory:"

rooms:
  backend: sql
  database: main

traffic:
  store:
    backend: inmemory
  buckets:
    chat:
      limit: 5
  cache:
    ttl: 30s
`
	path := writeConfigFile(t, configYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "test-aide" {
		t.Errorf("name = %q, want test-aide", cfg.Name)
	}

	llm := cfg.LLMs["main"]
	if llm == nil {
		t.Fatal("llm main missing")
	}
	if llm.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env expansion failed", llm.APIKey)
	}
	if llm.Timeout.Duration() != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", llm.Timeout.Duration())
	}

	if cfg.Rooms.Backend != StorageBackendSQL {
		t.Errorf("rooms backend = %q, want sql", cfg.Rooms.Backend)
	}

	chat := cfg.Traffic.Buckets["chat"]
	if chat == nil {
		t.Fatal("chat bucket missing")
	}
	if chat.Limit != 5 {
		t.Errorf("chat limit = %d, want override 5", chat.Limit)
	}
	if chat.Window.Duration() != time.Minute {
		t.Errorf("chat window = %v, want builtin 60s", chat.Window.Duration())
	}
	if cfg.Traffic.Cache.TTL.Duration() != 30*time.Second {
		t.Errorf("cache ttl = %v, want 30s", cfg.Traffic.Cache.TTL.Duration())
	}
}

func TestLoader_File_EnvDefault(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("AIDE_UNSET_FOR_TEST", "")

	configYAML := `
llms:
  main:
    provider: openai
    model: gpt-4o-mini
    api_key: ${AIDE_UNSET_FOR_TEST:-fallback-key}
`
	path := writeConfigFile(t, configYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.LLMs["main"].APIKey != "fallback-key" {
		t.Errorf("api key = %q, want fallback-key", cfg.LLMs["main"].APIKey)
	}
}

func TestLoader_File_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/aide.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoader_File_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "llms:\n  - broken: [unclosed\n")

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoader_File_ValidationFailure(t *testing.T) {
	clearProviderEnv(t)

	configYAML := `
rooms:
  backend: sql
  database: missing
`
	path := writeConfigFile(t, configYAML)

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected validation error for dangling database reference")
	}
}

func TestLoader_EmptyFile(t *testing.T) {
	clearProviderEnv(t)

	path := writeConfigFile(t, "")

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("empty config should load with defaults: %v", err)
	}
	defer loader.Close()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoader_JSONFallback(t *testing.T) {
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "aide.json")
	contents := `{"name": "json-config", "server": {"port": 9191}}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "json-config" {
		t.Errorf("name = %q, want json-config", cfg.Name)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
}
