package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"specloom/internal/config"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Specs.Root != "specs" || cfg.Storage.Backend != "file" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Lock.Attempts != 60 || cfg.LockDelay() != 500*time.Millisecond || cfg.LockStaleAfter() != 5*time.Minute {
		t.Fatalf("unexpected lock defaults: %+v", cfg.Lock)
	}
	if cfg.StrictPhases {
		t.Fatalf("strict phases should default off")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	raw := `
specs:
  root: work/specs
storage:
  backend: sqlite
lock:
  attempts: 10
  delay_ms: 100
  stale_after_minutes: 1
strict_phases: true
`
	if err := os.WriteFile(config.Path(dir), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Specs.Root != "work/specs" || cfg.Storage.Backend != "sqlite" || !cfg.StrictPhases {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// unset keys keep their defaults
	if cfg.Worktrees.BaseDir != ".worktrees" {
		t.Fatalf("expected default base_dir, got %s", cfg.Worktrees.BaseDir)
	}
	if cfg.LockDelay() != 100*time.Millisecond || cfg.LockStaleAfter() != time.Minute {
		t.Fatalf("lock overrides not applied: %+v", cfg.Lock)
	}
}

func TestValidate(t *testing.T) {
	bad := []string{
		"storage:\n  backend: redis",
		"lock:\n  attempts: 0",
		"lock:\n  delay_ms: -1",
		"lock:\n  stale_after_minutes: 0",
	}
	for _, raw := range bad {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestPath(t *testing.T) {
	if got := config.Path(""); got != filepath.Join(".", "specloom.yml") {
		t.Fatalf("unexpected path %s", got)
	}
}
