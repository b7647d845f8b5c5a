package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", cfg.MaxDepth)
	}
	if cfg.Strategy != "best_first" {
		t.Errorf("Strategy = %q, want best_first", cfg.Strategy)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "maxDepth: 7\nstrategy: opic\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7", cfg.MaxDepth)
	}
	if cfg.Strategy != "opic" {
		t.Errorf("Strategy = %q, want opic", cfg.Strategy)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAX_DEPTH", "9")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDepth != 9 {
		t.Errorf("MaxDepth = %d, want 9 from env override", cfg.MaxDepth)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strategy != "best_first" {
		t.Errorf("Strategy = %q, want best_first default", cfg.Strategy)
	}
}
