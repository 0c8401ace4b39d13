package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[string](10)
	mtime := time.Now()

	if _, ok := c.Get("a", 100, mtime); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("a", "hello", 100, mtime, 0)

	got, ok := c.Get("a", 100, mtime)
	if !ok || got != "hello" {
		t.Fatalf("got (%q, %v), want (\"hello\", true)", got, ok)
	}
}

func TestGetStaleOnSizeOrModTimeMismatch(t *testing.T) {
	c := New[int](10)
	mtime := time.Now()
	c.Set("a", 1, 100, mtime, 0)

	if _, ok := c.Get("a", 101, mtime); ok {
		t.Error("expected miss on size mismatch")
	}
	if _, ok := c.Get("a", 100, mtime.Add(time.Second)); ok {
		t.Error("expected miss on modTime mismatch")
	}
}

func TestEvictionByLRU(t *testing.T) {
	c := New[int](2)
	mtime := time.Now()

	c.Set("a", 1, 1, mtime, 0)
	c.Set("b", 2, 1, mtime, 0)
	c.Get("a", 1, mtime) // touches a, making b the oldest
	c.Set("c", 3, 1, mtime, 0)

	if c.Len() != 2 {
		t.Fatalf("got %d entries, want 2", c.Len())
	}
	if _, ok := c.Get("b", 1, mtime); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok := c.Get("a", 1, mtime); !ok {
		t.Error("a should still be cached")
	}
}

func TestDeleteIf(t *testing.T) {
	c := New[string](10)
	mtime := time.Now()
	c.Set("claude-1", "x", 1, mtime, 0)
	c.Set("codex-1", "y", 1, mtime, 0)

	c.DeleteIf(func(key string, _ Entry[string]) bool {
		return key == "claude-1"
	})

	if c.Len() != 1 {
		t.Fatalf("got %d entries after DeleteIf, want 1", c.Len())
	}
	if _, ok := c.Get("codex-1", 1, mtime); !ok {
		t.Error("codex-1 should survive the predicate delete")
	}
}

func TestFileChangedDetectsGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("append fixture: %v", err)
	}

	changed, grew, _, err := FileChanged(path, info.Size(), info.ModTime())
	if err != nil {
		t.Fatalf("FileChanged: %v", err)
	}
	if !changed || !grew {
		t.Errorf("got changed=%v grew=%v, want both true", changed, grew)
	}
}

func TestFileChangedMissingFile(t *testing.T) {
	_, _, _, err := FileChanged("/nonexistent/session.jsonl", 0, time.Time{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
