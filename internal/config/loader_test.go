package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Search.DefaultLimit != defaultLimit {
		t.Errorf("got limit %d, want %d", cfg.Search.DefaultLimit, defaultLimit)
	}
	if cfg.Adapters.CodexDir == "" {
		t.Error("codex dir should have a default")
	}
	if cfg.Index.SchemaVersion != schemaVersion {
		t.Errorf("got schema version %d, want %d", cfg.Index.SchemaVersion, schemaVersion)
	}
}

func TestLoadFromNonExistent(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.json")
	if err != nil {
		t.Errorf("should not error on missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("should return default config")
	}
	if cfg.Search.DefaultLimit != defaultLimit {
		t.Error("missing file should fall back to defaults")
	}
}

func TestLoadFromValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := []byte(`{
		"index": {"path": "/tmp/custom-index"},
		"adapters": {"codexDir": "/tmp/codex"},
		"search": {"defaultLimit": 25}
	}`)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Index.Path != "/tmp/custom-index" {
		t.Errorf("got index path %q", cfg.Index.Path)
	}
	if cfg.Adapters.CodexDir != "/tmp/codex" {
		t.Errorf("got codex dir %q", cfg.Adapters.CodexDir)
	}
	if cfg.Search.DefaultLimit != 25 {
		t.Errorf("got limit %d, want 25", cfg.Search.DefaultLimit)
	}
	// Fields absent from the JSON keep their defaults.
	if cfg.Adapters.VibeDir == "" {
		t.Error("vibe dir should still have a default")
	}
}

func TestLoadFromMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Errorf("malformed config should not error: %v", err)
	}
	if cfg.Search.DefaultLimit != defaultLimit {
		t.Error("malformed config should fall back to defaults")
	}
}
