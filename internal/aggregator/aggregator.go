// Package aggregator orchestrates adapters in parallel, diffs their
// output against the index, applies deletes/upserts, and answers search
// queries by combining index results with in-memory post-filters.
package aggregator

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/index"
	"github.com/marcus/fastresume/internal/record"
)

// loadState tracks the Empty → Loading → Ready lifecycle.
// Go's sync.Mutex is not reentrant, and hand-rolling a reentrant lock is
// its own source of bugs, so instead exported methods take the lock only
// around short critical sections, never while already holding it, and
// delegate work inside a held lock to unexported *Locked helpers, which
// never acquire it. That gives the same "safe to call from within a held
// lock" property a reentrant mutex would give, without a custom lock type.
type loadState int

const (
	stateEmpty loadState = iota
	stateLoading
	stateReady
)

// Summary reports what a stream_sessions ingest changed.
type Summary struct {
	New     int
	Updated int
	Deleted int
	Errors  int
}

// Aggregator is the single in-memory cache plus orchestrator.
// The zero value is not usable; construct with New.
type Aggregator struct {
	mu         sync.Mutex
	idx        *index.Index
	adapterSet []adapter.Adapter

	state        loadState
	streaming    bool
	sessionsByID map[string]record.Session
	sorted       []record.Session
}

func New(idx *index.Index, adapters []adapter.Adapter) *Aggregator {
	return &Aggregator{
		idx:          idx,
		adapterSet:   adapters,
		state:        stateEmpty,
		sessionsByID: make(map[string]record.Session),
	}
}

type diffResult struct {
	agent   string
	upserts []record.Session
	deleted []string
	err     error
}

// fanOut runs f against every adapter concurrently, one goroutine per
// adapter — adapter work is I/O-bound, not CPU-bound, so no further
// pooling is needed.
func (a *Aggregator) fanOut(f func(adapter.Adapter) diffResult) []diffResult {
	results := make([]diffResult, len(a.adapterSet))
	var wg sync.WaitGroup
	for i, ad := range a.adapterSet {
		wg.Add(1)
		go func(i int, ad adapter.Adapter) {
			defer wg.Done()
			results[i] = f(ad)
		}(i, ad)
	}
	wg.Wait()
	return results
}

func (a *Aggregator) diffIncremental(known record.KnownMap) []diffResult {
	return a.fanOut(func(ad adapter.Adapter) diffResult {
		upserts, deleted, err := ad.FindSessionsIncremental(known)
		return diffResult{agent: ad.Name(), upserts: upserts, deleted: deleted, err: err}
	})
}

// WarmLoad is the fast path used on process start: if the index already
// holds sessions and no adapter reports any drift, it loads straight from
// the index with no filesystem re-scan. ok is false when the caller must
// fall back to a cold GetAllSessions instead.
func (a *Aggregator) WarmLoad() (ok bool, err error) {
	known, err := a.idx.KnownSessions()
	if err != nil {
		return false, fmt.Errorf("known sessions: %w", err)
	}
	if len(known) == 0 {
		return false, nil
	}

	a.mu.Lock()
	a.state = stateLoading
	a.mu.Unlock()

	results := a.diffIncremental(known)
	for _, r := range results {
		if len(r.upserts) > 0 || len(r.deleted) > 0 {
			return false, nil
		}
	}

	sessions, err := a.idx.AllSessions()
	if err != nil {
		return false, fmt.Errorf("all sessions: %w", err)
	}

	a.mu.Lock()
	a.commitSnapshotLocked(sessions)
	a.state = stateReady
	a.mu.Unlock()
	return true, nil
}

// commitSnapshotLocked replaces the in-memory view with sessions, sorted
// descending by timestamp. Caller must hold mu.
func (a *Aggregator) commitSnapshotLocked(sessions []record.Session) {
	byID := make(map[string]record.Session, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}
	sorted := append([]record.Session(nil), sessions...)
	sortByTimestampDesc(sorted)

	a.sessionsByID = byID
	a.sorted = sorted

	slog.Debug("snapshot committed", "sessions", len(sorted), "cache_key", cacheKeyHash(sorted))
}

// cacheKeyHash hashes the id+mtime of every session into a short hex string
// used only in diagnostics — a cheap way to tell at a glance in --debug
// output whether two snapshots are the same without diffing the full list.
func cacheKeyHash(sessions []record.Session) string {
	h := xxhash.New()
	for _, s := range sessions {
		h.WriteString(s.ID)
		h.WriteString(strconv.FormatFloat(s.MTime, 'f', -1, 64))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func sortByTimestampDesc(sessions []record.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Timestamp.After(sessions[j].Timestamp)
	})
}

// snapshotLocked returns the currently cached, sorted session list. Caller
// must hold mu. Returned slice must not be mutated by the caller.
func (a *Aggregator) snapshotLocked() []record.Session {
	return a.sorted
}

// GetAllSessions returns the full in-memory session list, re-ingesting
// from adapters when the cache is empty, forced, or when any adapter's
// diff against the index turns up a change.
func (a *Aggregator) GetAllSessions(forceRefresh bool) ([]record.Session, error) {
	a.mu.Lock()
	if a.state == stateReady && !forceRefresh {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	if a.streaming {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	a.state = stateLoading
	a.mu.Unlock()

	known := record.KnownMap{}
	if !forceRefresh {
		k, err := a.idx.KnownSessions()
		if err != nil {
			return nil, fmt.Errorf("known sessions: %w", err)
		}
		known = k
	}

	results := a.diffIncremental(known)

	var upserts []record.Session
	var deletedIDs []string
	anyChange := false
	for _, r := range results {
		if len(r.upserts) > 0 {
			anyChange = true
			upserts = append(upserts, r.upserts...)
		}
		if len(r.deleted) > 0 {
			anyChange = true
			deletedIDs = append(deletedIDs, r.deleted...)
		}
	}

	if !anyChange && len(known) > 0 {
		sessions, err := a.idx.AllSessions()
		if err != nil {
			return nil, fmt.Errorf("all sessions: %w", err)
		}
		a.mu.Lock()
		a.commitSnapshotLocked(sessions)
		a.state = stateReady
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}

	if err := a.commitDiff(deletedIDs, upserts); err != nil {
		return nil, err
	}

	sessions, err := a.idx.AllSessions()
	if err != nil {
		return nil, fmt.Errorf("all sessions: %w", err)
	}

	a.mu.Lock()
	a.commitSnapshotLocked(sessions)
	a.state = stateReady
	snap := a.snapshotLocked()
	a.mu.Unlock()
	return snap, nil
}

// commitDiff applies deletes before upserts, and deletes upsert ids first
// to prevent duplicates.
func (a *Aggregator) commitDiff(deletedIDs []string, upserts []record.Session) error {
	if err := a.idx.DeleteIDs(deletedIDs); err != nil {
		return fmt.Errorf("delete ids: %w", err)
	}
	upsertIDs := make([]string, len(upserts))
	for i, s := range upserts {
		upsertIDs[i] = s.ID
	}
	if err := a.idx.DeleteIDs(upsertIDs); err != nil {
		return fmt.Errorf("delete upsert ids: %w", err)
	}
	if err := a.idx.Add(upserts); err != nil {
		return fmt.Errorf("add upserts: %w", err)
	}
	return nil
}

// StreamSessions runs the progressive ingest path: as each adapter
// finishes its diff, onProgress is invoked with a provisional merged
// snapshot, before the final commit to the index.
func (a *Aggregator) StreamSessions(onProgress func([]record.Session)) (Summary, error) {
	a.mu.Lock()
	a.streaming = true
	a.state = stateLoading
	base := append([]record.Session(nil), a.sorted...)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
	}()

	known, err := a.idx.KnownSessions()
	if err != nil {
		return Summary{}, fmt.Errorf("known sessions: %w", err)
	}

	type progressUpdate struct {
		result diffResult
	}
	updates := make(chan progressUpdate, len(a.adapterSet))
	var wg sync.WaitGroup
	for _, ad := range a.adapterSet {
		wg.Add(1)
		go func(ad adapter.Adapter) {
			defer wg.Done()
			upserts, deleted, err := ad.FindSessionsIncremental(known)
			updates <- progressUpdate{result: diffResult{agent: ad.Name(), upserts: upserts, deleted: deleted, err: err}}
		}(ad)
	}
	go func() {
		wg.Wait()
		close(updates)
	}()

	provisional := append([]record.Session(nil), base...)
	provisionalByID := make(map[string]record.Session, len(base))
	for _, s := range base {
		provisionalByID[s.ID] = s
	}

	var allUpserts []record.Session
	var allDeleted []string
	errCount := 0

	for u := range updates {
		if u.result.err != nil {
			errCount++
			continue
		}
		allUpserts = append(allUpserts, u.result.upserts...)
		allDeleted = append(allDeleted, u.result.deleted...)

		for _, id := range u.result.deleted {
			delete(provisionalByID, id)
		}
		for _, s := range u.result.upserts {
			provisionalByID[s.ID] = s
		}
		provisional = provisional[:0]
		for _, s := range provisionalByID {
			provisional = append(provisional, s)
		}
		sortByTimestampDesc(provisional)

		if onProgress != nil {
			onProgress(append([]record.Session(nil), provisional...))
		}
	}

	if err := a.commitDiff(allDeleted, allUpserts); err != nil {
		return Summary{}, err
	}

	sessions, err := a.idx.AllSessions()
	if err != nil {
		return Summary{}, fmt.Errorf("all sessions: %w", err)
	}

	a.mu.Lock()
	existingIDs := make(map[string]struct{}, len(a.sessionsByID))
	for id := range a.sessionsByID {
		existingIDs[id] = struct{}{}
	}
	a.commitSnapshotLocked(sessions)
	a.state = stateReady
	a.mu.Unlock()

	newCount, updatedCount := 0, 0
	for _, s := range allUpserts {
		if _, existed := existingIDs[s.ID]; existed {
			updatedCount++
		} else {
			newCount++
		}
	}

	return Summary{
		New:     newCount,
		Updated: updatedCount,
		Deleted: len(allDeleted),
		Errors:  errCount,
	}, nil
}

// Search answers a fuzzy query combined with agent and directory filters.
// It calls GetAllSessions once (idempotently) to ensure a baseline is
// loaded before serving either the index-backed or in-memory path.
func (a *Aggregator) Search(query, agentFilter, directoryFilter string, limit int) ([]record.Session, error) {
	if _, err := a.GetAllSessions(false); err != nil {
		return nil, err
	}

	a.mu.Lock()
	byID := a.sessionsByID
	sorted := a.sorted
	a.mu.Unlock()

	if strings.TrimSpace(query) == "" {
		var out []record.Session
		for _, s := range sorted {
			if agentFilter != "" && s.Agent != agentFilter {
				continue
			}
			if directoryFilter != "" && !strings.Contains(strings.ToLower(s.Directory), strings.ToLower(directoryFilter)) {
				continue
			}
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return out, nil
	}

	hits, err := a.idx.Search(query, agentFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	var out []record.Session
	for _, hit := range hits {
		s, ok := byID[hit.ID]
		if !ok {
			continue
		}
		if directoryFilter != "" && !strings.Contains(strings.ToLower(s.Directory), strings.ToLower(directoryFilter)) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// ResumeCommand dispatches to session's own adapter, OR-ing the caller's
// yolo request with the session's own recorded yolo flag.
func (a *Aggregator) ResumeCommand(session record.Session, yolo bool) []string {
	for _, ad := range a.adapterSet {
		if ad.Name() == session.Agent {
			return ad.ResumeCommand(session, yolo || session.Yolo)
		}
	}
	return nil
}
