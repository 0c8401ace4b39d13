package claudecode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/fastresume/internal/record"
)

func writeSession(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

func TestFindSessionsBasic(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-Users-foo-code-myrepo")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	lines := `{"type":"user","cwd":"/Users/foo/code/myrepo","message":{"content":"fix the bug in parser"}}
{"type":"assistant","message":{"content":"I'll take a look."}}
{"type":"summary","summary":"Fix parser bug"}
`
	writeSession(t, projectDir, "sess-1.jsonl", lines)

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != "sess-1" {
		t.Errorf("got id %q", s.ID)
	}
	if s.Title != "Fix parser bug" {
		t.Errorf("got title %q, want summary to win", s.Title)
	}
	if s.Directory != "/Users/foo/code/myrepo" {
		t.Errorf("got directory %q", s.Directory)
	}
	if s.MessageCount != 1 {
		t.Errorf("got message count %d, want 1", s.MessageCount)
	}
}

func TestFindSessionsSkipsAgentSubprocess(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	os.MkdirAll(projectDir, 0o755)
	writeSession(t, projectDir, "agent-xyz.jsonl", `{"type":"user","message":{"content":"hello"}}`+"\n")

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions, want 0 (agent subprocess skipped)", len(sessions))
	}
}

func TestFindSessionsTitleFallsBackToFirstHumanMessage(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	os.MkdirAll(projectDir, 0o755)
	writeSession(t, projectDir, "sess.jsonl", `{"type":"user","message":{"content":"refactor the search index"}}`+"\n")

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Title != "refactor the search index" {
		t.Errorf("got title %q", sessions[0].Title)
	}
}

func TestFindSessionsSkipsToolResultFirstPart(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	os.MkdirAll(projectDir, 0o755)
	writeSession(t, projectDir, "sess.jsonl",
		`{"type":"user","message":{"content":[{"type":"tool_result","text":"ok"}]}}`+"\n")

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions, want 0 (no human turns)", len(sessions))
	}
}

func TestFindSessionsSkipsMetaAndCommandMessages(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	os.MkdirAll(projectDir, 0o755)
	writeSession(t, projectDir, "sess.jsonl",
		`{"type":"user","isMeta":true,"message":{"content":"system reminder text"}}
{"type":"user","message":{"content":"<command-name>clear</command-name>"}}
`)

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions, want 0 (all turns ignored)", len(sessions))
	}
}

func TestFindSessionsIncrementalSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	os.MkdirAll(projectDir, 0o755)
	path := writeSession(t, projectDir, "sess.jsonl", `{"type":"user","message":{"content":"hello there"}}`+"\n")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	a := New(root)
	known := record.KnownMap{
		"sess": {MTime: info.ModTime(), Agent: agentName},
	}

	upserts, deleted, err := a.FindSessionsIncremental(known)
	if err != nil {
		t.Fatalf("FindSessionsIncremental: %v", err)
	}
	if len(upserts) != 0 {
		t.Errorf("got %d upserts, want 0 for unchanged file", len(upserts))
	}
	if len(deleted) != 0 {
		t.Errorf("got %d deletions, want 0", len(deleted))
	}
}

func TestFindSessionsIncrementalDetectsDeletion(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "proj"), 0o755)

	a := New(root)
	known := record.KnownMap{
		"gone": {MTime: time.Now(), Agent: agentName},
		"other-agent-sess": {MTime: time.Now(), Agent: "codex"},
	}

	_, deleted, err := a.FindSessionsIncremental(known)
	if err != nil {
		t.Fatalf("FindSessionsIncremental: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "gone" {
		t.Fatalf("got deleted %v, want only [gone] (other agent's id must not be touched)", deleted)
	}
}

func TestIsAvailable(t *testing.T) {
	root := t.TempDir()
	a := New(filepath.Join(root, "missing"))
	if a.IsAvailable() {
		t.Error("expected unavailable for missing root")
	}

	a2 := New(root)
	if !a2.IsAvailable() {
		t.Error("expected available for existing root")
	}
}

func TestResumeCommand(t *testing.T) {
	a := New(t.TempDir())
	got := a.ResumeCommand(record.Session{ID: "abc123"}, false)
	want := []string{"claude", "--resume", "abc123"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
