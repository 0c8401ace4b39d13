package opencode

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/fastresume/internal/record"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// layout builds a minimal session/message/part tree for one session with
// one human turn and one assistant turn.
func layout(t *testing.T, root, sessionID string, created int64) {
	t.Helper()
	writeJSON(t, filepath.Join(root, "session", "proj1", "ses_"+sessionID+".json"), sessionDescriptor{
		ID:        sessionID,
		Title:     "",
		Directory: "/home/user/proj1",
		Time:      sessionTimes{Created: created},
	})
	writeJSON(t, filepath.Join(root, "message", sessionID, "msg_1.json"), messageDescriptor{
		ID:   "msg1-" + sessionID,
		Role: "user",
	})
	writeJSON(t, filepath.Join(root, "message", sessionID, "msg_2.json"), messageDescriptor{
		ID:   "msg2-" + sessionID,
		Role: "assistant",
	})
	writeJSON(t, filepath.Join(root, "part", "msg1-"+sessionID, "part_1.json"), partDescriptor{
		Type: "text",
		Text: "investigate the flaky test",
	})
	writeJSON(t, filepath.Join(root, "part", "msg2-"+sessionID, "part_1.json"), partDescriptor{
		Type: "text",
		Text: "found it, race in the scheduler",
	})
}

func TestFindSessionsBasic(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "sess-1", time.Now().UnixMilli())

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
	if s.Directory != "/home/user/proj1" {
		t.Errorf("got directory %q", s.Directory)
	}
	if s.MessageCount != 1 {
		t.Errorf("got message count %d, want 1 (human turns only)", s.MessageCount)
	}
	if s.Title != "investigate the flaky test" {
		t.Errorf("got title %q", s.Title)
	}
}

func TestFindSessionsSuppressesZeroHumanTurns(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "session", "proj1", "ses_sess-2.json"), sessionDescriptor{
		ID:        "sess-2",
		Directory: "/home/user/proj1",
		Time:      sessionTimes{Created: time.Now().UnixMilli()},
	})
	writeJSON(t, filepath.Join(root, "message", "sess-2", "msg_1.json"), messageDescriptor{
		ID:   "msgA",
		Role: "assistant",
	})
	writeJSON(t, filepath.Join(root, "part", "msgA", "part_1.json"), partDescriptor{
		Type: "text",
		Text: "unsolicited assistant-only turn",
	})

	a := New(root)
	sessions, err := a.FindSessions()
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("got %d sessions, want 0 (no human turn)", len(sessions))
	}
}

func TestFindSessionsIncrementalSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	created := time.Now().UnixMilli()
	layout(t, root, "sess-3", created)

	a := New(root)
	first, err := a.FindSessions()
	if err != nil || len(first) != 1 {
		t.Fatalf("first scan: %v, %d sessions", err, len(first))
	}

	known := record.KnownMap{
		"sess-3": {MTime: time.UnixMilli(created), Agent: agentName},
	}
	upserts, deleted, err := a.FindSessionsIncremental(known)
	if err != nil {
		t.Fatalf("FindSessionsIncremental: %v", err)
	}
	if len(upserts) != 0 {
		t.Errorf("got %d upserts, want 0 (unchanged)", len(upserts))
	}
	if len(deleted) != 0 {
		t.Errorf("got %d deletions, want 0", len(deleted))
	}
}

func TestFindSessionsIncrementalDetectsDeletion(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "sess-4", time.Now().UnixMilli())

	a := New(root)
	known := record.KnownMap{
		"sess-4":       {MTime: time.Now(), Agent: agentName},
		"gone-session": {MTime: time.Now(), Agent: agentName},
		"other-agent":  {MTime: time.Now(), Agent: "codex"},
	}
	_, deleted, err := a.FindSessionsIncremental(known)
	if err != nil {
		t.Fatalf("FindSessionsIncremental: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "gone-session" {
		t.Errorf("got deleted %v, want [gone-session]", deleted)
	}
}

func TestResumeCommand(t *testing.T) {
	a := New(t.TempDir())
	got := a.ResumeCommand(record.Session{ID: "sess-5", Directory: "/home/user/proj1"}, false)
	want := []string{"opencode", "/home/user/proj1", "--session", "sess-5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIsAvailable(t *testing.T) {
	root := t.TempDir()
	a := New(filepath.Join(root, "missing"))
	if a.IsAvailable() {
		t.Error("expected unavailable for missing storage dir")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	b := New(root)
	if !b.IsAvailable() {
		t.Error("expected available for existing storage dir")
	}
}
