package aggregator

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/index"
	"github.com/marcus/fastresume/internal/record"
)

// fakeAdapter is a scriptable adapter.Adapter for aggregator tests.
type fakeAdapter struct {
	mu          sync.Mutex
	name        string
	available   bool
	fullScan    []record.Session
	incremental func(known record.KnownMap) ([]record.Session, []string, error)
	resumeArgv  []string
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) IsAvailable() bool { return f.available }

func (f *fakeAdapter) FindSessions() ([]record.Session, error) {
	return f.fullScan, nil
}

func (f *fakeAdapter) FindSessionsIncremental(known record.KnownMap) ([]record.Session, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incremental != nil {
		return f.incremental(known)
	}
	return nil, nil, nil
}

func (f *fakeAdapter) ResumeCommand(session record.Session, yolo bool) []string {
	return f.resumeArgv
}

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := index.Open(path, 1)
	if err != nil {
		t.Fatalf("Open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func sess(id, agent, dir string, ts time.Time) record.Session {
	return record.Session{
		ID:           id,
		Agent:        agent,
		Title:        "title " + id,
		Directory:    dir,
		Timestamp:    ts,
		Content:      "» content for " + id,
		MessageCount: 1,
		MTime:        float64(ts.Unix()),
	}
}

func TestGetAllSessionsColdIngest(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()
	a1 := &fakeAdapter{name: "codex", available: true, incremental: func(known record.KnownMap) ([]record.Session, []string, error) {
		if len(known) > 0 {
			return nil, nil, nil
		}
		return []record.Session{sess("s1", "codex", "/p", now)}, nil, nil
	}}
	agg := New(ix, []adapter.Adapter{a1})

	sessions, err := agg.GetAllSessions(false)
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("got %+v, want [s1]", sessions)
	}
}

func TestGetAllSessionsNoOpOnSecondCall(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()
	a1 := &fakeAdapter{name: "codex", available: true, incremental: func(known record.KnownMap) ([]record.Session, []string, error) {
		if len(known) > 0 {
			return nil, nil, nil
		}
		return []record.Session{sess("s1", "codex", "/p", now)}, nil, nil
	}}
	agg := New(ix, []adapter.Adapter{a1})

	if _, err := agg.GetAllSessions(false); err != nil {
		t.Fatalf("first GetAllSessions: %v", err)
	}
	sessions, err := agg.GetAllSessions(false)
	if err != nil {
		t.Fatalf("second GetAllSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions on cached call, want 1", len(sessions))
	}
}

func TestSearchEmptyQueryAppliesFilters(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()
	a1 := &fakeAdapter{name: "codex", available: true, incremental: func(known record.KnownMap) ([]record.Session, []string, error) {
		if len(known) > 0 {
			return nil, nil, nil
		}
		return []record.Session{
			sess("s1", "codex", "/home/a/web", now),
			sess("s2", "crush", "/home/b/api", now.Add(-time.Minute)),
		}, nil, nil
	}}
	agg := New(ix, []adapter.Adapter{a1})

	results, err := agg.Search("", "", "web", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "s1" {
		t.Fatalf("got %+v, want [s1]", results)
	}
}

func TestSearchSortedByTimestampDesc(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()
	a1 := &fakeAdapter{name: "codex", available: true, incremental: func(known record.KnownMap) ([]record.Session, []string, error) {
		if len(known) > 0 {
			return nil, nil, nil
		}
		return []record.Session{
			sess("old", "codex", "/p", now.Add(-time.Hour)),
			sess("new", "codex", "/p", now),
		}, nil, nil
	}}
	agg := New(ix, []adapter.Adapter{a1})

	results, err := agg.Search("", "", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "new" || results[1].ID != "old" {
		t.Fatalf("got %+v, want [new, old]", results)
	}
}

func TestResumeCommandDispatchesToOwnAdapter(t *testing.T) {
	ix := newTestIndex(t)
	a1 := &fakeAdapter{name: "codex", available: true, resumeArgv: []string{"codex", "resume", "s1"}}
	agg := New(ix, []adapter.Adapter{a1})

	got := agg.ResumeCommand(record.Session{ID: "s1", Agent: "codex"}, false)
	if len(got) != 3 || got[0] != "codex" {
		t.Fatalf("got %v", got)
	}
}

func TestStreamSessionsReportsSummary(t *testing.T) {
	ix := newTestIndex(t)
	now := time.Now()
	a1 := &fakeAdapter{name: "codex", available: true, incremental: func(known record.KnownMap) ([]record.Session, []string, error) {
		if len(known) > 0 {
			return nil, nil, nil
		}
		return []record.Session{sess("s1", "codex", "/p", now)}, nil, nil
	}}
	agg := New(ix, []adapter.Adapter{a1})

	var progressCalls int
	summary, err := agg.StreamSessions(func(snapshot []record.Session) {
		progressCalls++
	})
	if err != nil {
		t.Fatalf("StreamSessions: %v", err)
	}
	if summary.New != 1 {
		t.Errorf("got New=%d, want 1", summary.New)
	}
	if progressCalls == 0 {
		t.Error("expected at least one progress callback")
	}
}
