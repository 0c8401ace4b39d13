package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchSignalsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	signal, closer, err := Watch([]string{dir})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer closer.Close()

	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-signal:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change signal, got none")
	}
}

func TestWatchSkipsMissingRoot(t *testing.T) {
	_, closer, err := Watch([]string{filepath.Join(t.TempDir(), "does-not-exist")})
	if err != nil {
		t.Fatalf("Watch should tolerate a missing root, got: %v", err)
	}
	closer.Close()
}

func TestWatchClosesSignalChannel(t *testing.T) {
	dir := t.TempDir()
	signal, closer, err := Watch([]string{dir})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	closer.Close()

	select {
	case _, ok := <-signal:
		if ok {
			t.Fatal("expected channel to be closed after closer.Close()")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal channel never closed")
	}
}
