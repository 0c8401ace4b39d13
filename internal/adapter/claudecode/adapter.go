// Package claudecode implements the Claude Code session adapter: one
// project-hashed folder per working directory, one append-only JSONL
// transcript file per session.
package claudecode

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/cache"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "claude-code"

const cacheMaxEntries = 2048

// parseState carries the accumulated scan state for a session transcript
// alongside the session it last produced, so that a later scan can resume
// from a byte offset instead of re-reading lines already accounted for.
type parseState struct {
	session    record.Session
	lines      []string
	humanTurns int
	firstHuman string
	title      string
	directory  string
}

// Adapter implements adapter.Adapter for Claude Code session transcripts.
type Adapter struct {
	projectsDir string
	cache       *cache.Cache[parseState]
}

// New returns an adapter rooted at dir, the Claude Code projects directory.
func New(dir string) *Adapter {
	return &Adapter{
		projectsDir: dir,
		cache:       cache.New[parseState](cacheMaxEntries),
	}
}

func (a *Adapter) Name() string { return agentName }

func (a *Adapter) IsAvailable() bool {
	info, err := os.Stat(a.projectsDir)
	return err == nil && info.IsDir()
}

// FindSessions performs a full scan of every project directory.
func (a *Adapter) FindSessions() ([]record.Session, error) {
	upserts, _, err := a.FindSessionsIncremental(nil)
	return upserts, err
}

// FindSessionsIncremental implements the common incremental-diff contract
// (adapter.go doc): unchanged files (within adapter.MTimeTolerance of their
// known mtime) are skipped entirely rather than re-parsed.
func (a *Adapter) FindSessionsIncremental(known record.KnownMap) ([]record.Session, []string, error) {
	if !a.IsAvailable() {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	projectDirs, err := os.ReadDir(a.projectsDir)
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	current := make(map[string]struct{})
	var upserts []record.Session

	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		dir := filepath.Join(a.projectsDir, projectDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue // FileUnparseable: drop this directory's files silently
		}

		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			// Agent-subprocess transcripts are not resumable sessions.
			if strings.HasPrefix(name, "agent-") {
				continue
			}

			id := strings.TrimSuffix(name, ".jsonl")
			path := filepath.Join(dir, name)
			info, err := f.Info()
			if err != nil {
				continue
			}
			current[id] = struct{}{}

			if entry, ok := known[id]; ok {
				if !info.ModTime().After(entry.MTime.Add(adapter.MTimeTolerance)) {
					continue // unchanged since last known mtime
				}
			}

			sess, err := a.parseSessionFile(id, path, info)
			if err != nil || sess == nil {
				continue // RecordMalformed/empty session: swallow
			}
			upserts = append(upserts, *sess)
		}
	}

	var deleted []string
	for id, entry := range known {
		if entry.Agent != agentName {
			continue
		}
		if _, ok := current[id]; !ok {
			deleted = append(deleted, id)
		}
	}

	return upserts, deleted, nil
}

// parseSessionFile resolves a session either from an unchanged cache entry,
// by resuming a scan from the previous byte offset when the file has only
// grown (the common case for an append-only transcript), or by a full scan.
func (a *Adapter) parseSessionFile(id, path string, info os.FileInfo) (*record.Session, error) {
	if a.cache != nil {
		if cached, offset, size, modTime, ok := a.cache.GetWithOffset(path); ok {
			if info.Size() == size && info.ModTime().Equal(modTime) {
				sess := cached.session
				return &sess, nil
			}
			if info.Size() > size && offset > 0 {
				if sess, err := a.parseSessionFileFrom(id, path, info, cached, offset); err == nil {
					return sess, nil
				}
				// offset turned out to be stale (e.g. file was truncated
				// and rewritten between stats); fall through to a full scan.
			}
		}
	}
	return a.parseSessionFileFull(id, path, info)
}

func (a *Adapter) parseSessionFileFull(id, path string, info os.FileInfo) (*record.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var st parseState
	bytesRead, err := scanTranscript(scanner, &st)
	if err != nil {
		return nil, err
	}

	sess := finalizeSession(id, &st, info)
	if sess == nil {
		return nil, nil
	}
	if a.cache != nil {
		st.session = *sess
		a.cache.Set(path, st, info.Size(), info.ModTime(), bytesRead)
	}
	return sess, nil
}

// parseSessionFileFrom resumes scanning at offset, seeded with the scan
// state cached from the previous pass, and stitches the new lines onto it.
func (a *Adapter) parseSessionFileFrom(id, path string, info os.FileInfo, prev parseState, offset int64) (*record.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	st := parseState{
		lines:      append([]string(nil), prev.lines...),
		humanTurns: prev.humanTurns,
		firstHuman: prev.firstHuman,
		title:      prev.title,
		directory:  prev.directory,
	}
	newBytes, err := scanTranscript(scanner, &st)
	if err != nil {
		return nil, err
	}

	sess := finalizeSession(id, &st, info)
	if sess == nil {
		return nil, nil
	}
	if a.cache != nil {
		st.session = *sess
		a.cache.Set(path, st, info.Size(), info.ModTime(), offset+newBytes)
	}
	return sess, nil
}

// scanTranscript reads JSONL records from scanner into st and returns the
// number of bytes consumed, so callers can record a resume offset.
func scanTranscript(scanner *bufio.Scanner, st *parseState) (int64, error) {
	var bytesRead int64
	for scanner.Scan() {
		raw := scanner.Bytes()
		bytesRead += int64(len(raw)) + 1

		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		var line rawLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue // RecordMalformed
		}

		switch line.Type {
		case "summary":
			if line.Summary != "" {
				st.title = line.Summary
			}

		case "user":
			if line.Message == nil {
				continue
			}
			if st.directory == "" && line.CWD != "" {
				st.directory = line.CWD
			}
			text, ok := extractUserTurn(line)
			if !ok {
				continue
			}
			if text != "" {
				st.lines = append(st.lines, record.HumanPrefix+text)
				if st.firstHuman == "" {
					st.firstHuman = text
				}
			}
			st.humanTurns++

		case "assistant":
			if line.Message == nil {
				continue
			}
			for _, text := range extractAssistantTexts(line.Message.Content) {
				st.lines = append(st.lines, record.AssistantPrefix+text)
			}
		}
	}
	return bytesRead, scanner.Err()
}

// finalizeSession builds the session the accumulated scan state describes,
// or nil if it never carried any human-authored text.
func finalizeSession(id string, st *parseState, info os.FileInfo) *record.Session {
	if st.firstHuman == "" || len(st.lines) == 0 {
		return nil
	}

	title := st.title
	if title == "" {
		title = record.TruncateTitle(st.firstHuman, record.TitleLimit)
	}

	content := record.BuildContent(st.lines)
	return &record.Session{
		ID:           id,
		Agent:        agentName,
		Title:        title,
		Directory:    st.directory,
		Timestamp:    info.ModTime(),
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: st.humanTurns,
		MTime:        float64(info.ModTime().UnixNano()) / 1e9,
	}
}

// extractUserTurn returns the human-readable text for a "user" record and
// whether it counts as a human turn at all. A record whose body is a
// string is a human turn unless flagged meta or prefixed by an internal
// command marker, in which case it is ignored entirely. A record whose
// body is a list of parts is a human turn only if its first part is not a
// tool result.
func extractUserTurn(line rawLine) (string, bool) {
	var asString string
	if err := json.Unmarshal(line.Message.Content, &asString); err == nil {
		if line.IsMeta || hasInternalCommandMarker(asString) {
			return "", false
		}
		return asString, true
	}

	var parts []rawContentPart
	if err := json.Unmarshal(line.Message.Content, &parts); err != nil || len(parts) == 0 {
		return "", false
	}
	if parts[0].Type == "tool_result" || parts[0].Type == "tool-result" {
		return "", false
	}

	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), true
}

func extractAssistantTexts(raw json.RawMessage) []string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []string{asString}
	}

	var parts []rawContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return texts
}

func hasInternalCommandMarker(s string) bool {
	for _, marker := range internalCommandMarkers {
		if strings.HasPrefix(s, marker) {
			return true
		}
	}
	return false
}

// ResumeCommand returns the argv that resumes a Claude Code session.
// Claude Code has no yolo-mode resume flag.
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	return []string{"claude", "--resume", session.ID}
}
