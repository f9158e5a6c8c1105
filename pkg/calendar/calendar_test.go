package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/aidekit/aide/pkg/config"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Databases: map[string]*config.DatabaseConfig{
			"main": {Driver: "sqlite", Database: ":memory:"},
		},
	}
	cfg.Calendar = config.CalendarConfig{Database: "main"}

	pool := config.NewDBPool()
	t.Cleanup(func() { pool.Close() })

	svc, err := New(cfg, pool)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	event, err := svc.Create(context.Background(), testEvent("wired", start))
	if err != nil {
		t.Fatalf("Create through pooled connection failed: %v", err)
	}
	if event.ID == "" {
		t.Error("expected an event id")
	}
}

func TestNew_RequiresPool(t *testing.T) {
	cfg := &config.Config{}
	cfg.Calendar = config.CalendarConfig{Database: "main"}

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error without a pool")
	}
}

func TestNew_RequiresDatabase(t *testing.T) {
	cfg := &config.Config{}

	if _, err := New(cfg, config.NewDBPool()); err == nil {
		t.Fatal("expected error without a database reference")
	}
}

func TestNew_UnknownDatabase(t *testing.T) {
	cfg := &config.Config{Databases: map[string]*config.DatabaseConfig{}}
	cfg.Calendar = config.CalendarConfig{Database: "absent"}

	if _, err := New(cfg, config.NewDBPool()); err == nil {
		t.Fatal("expected error for unknown database reference")
	}
}
