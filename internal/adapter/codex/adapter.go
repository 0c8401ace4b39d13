// Package codex implements the Codex CLI session adapter: a
// date-partitioned directory tree of append-only JSONL rollout files, one
// per session, with typed records (session_meta, turn_context,
// response_item, event_msg) rather than Claude Code's user/assistant split.
package codex

import (
	"bufio"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/cache"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "codex"

const cacheMaxEntries = 2048

// parseState carries the accumulated scan state for a rollout file
// alongside the session it last produced, so a later scan can resume from
// a byte offset instead of re-reading records already accounted for.
type parseState struct {
	session     record.Session
	directory   string
	yolo        bool
	lines       []string
	userPrompts []string
}

// Adapter implements adapter.Adapter for Codex CLI rollout files.
type Adapter struct {
	sessionsDir string
	cache       *cache.Cache[parseState]
}

func New(dir string) *Adapter {
	return &Adapter{
		sessionsDir: dir,
		cache:       cache.New[parseState](cacheMaxEntries),
	}
}

func (a *Adapter) Name() string { return agentName }

func (a *Adapter) IsAvailable() bool {
	info, err := os.Stat(a.sessionsDir)
	return err == nil && info.IsDir()
}

func (a *Adapter) FindSessions() ([]record.Session, error) {
	upserts, _, err := a.FindSessionsIncremental(nil)
	return upserts, err
}

func (a *Adapter) FindSessionsIncremental(known record.KnownMap) ([]record.Session, []string, error) {
	if !a.IsAvailable() {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	paths, err := a.rolloutFiles()
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	current := make(map[string]struct{}, len(paths))
	var upserts []record.Session

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		id := sessionIDFromFile(path)
		current[id] = struct{}{}

		if entry, ok := known[id]; ok {
			if !info.ModTime().After(entry.MTime.Add(adapter.MTimeTolerance)) {
				continue
			}
		}

		sess, err := a.parseSessionFile(id, path, info)
		if err != nil || sess == nil {
			continue
		}
		upserts = append(upserts, *sess)
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

// rolloutFiles walks the date-partitioned tree for *.jsonl files.
func (a *Adapter) rolloutFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(a.sessionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't abort the walk
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// sessionIDFromFile reads just far enough to find a session_meta.id,
// falling back to the part of the filename stem after its first "-" (for
// "rollout-2025-12-17T18-24-27-<id>" that is "2025-12-17T18-24-27-<id>").
func sessionIDFromFile(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return filenameFallbackID(path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if raw.Type != "session_meta" {
			continue
		}
		var meta sessionMetaPayload
		if err := json.Unmarshal(raw.Payload, &meta); err == nil && meta.ID != "" {
			return meta.ID
		}
		break
	}
	return filenameFallbackID(path)
}

func filenameFallbackID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if idx := strings.Index(stem, "-"); idx >= 0 {
		return stem[idx+1:]
	}
	return stem
}

// parseSessionFile resolves a session either from an unchanged cache entry,
// by resuming a scan from the previous byte offset when the rollout file
// has only grown, or by a full scan.
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
	bytesRead, err := scanRollout(scanner, &st)
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
// state cached from the previous pass.
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
		directory:   prev.directory,
		yolo:        prev.yolo,
		lines:       append([]string(nil), prev.lines...),
		userPrompts: append([]string(nil), prev.userPrompts...),
	}
	newBytes, err := scanRollout(scanner, &st)
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

// scanRollout reads typed records from scanner into st and returns the
// number of bytes consumed, so callers can record a resume offset.
func scanRollout(scanner *bufio.Scanner, st *parseState) (int64, error) {
	var bytesRead int64
	for scanner.Scan() {
		raw := scanner.Bytes()
		bytesRead += int64(len(raw)) + 1

		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var line rawLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}

		switch line.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if json.Unmarshal(line.Payload, &meta) == nil {
				st.directory = meta.CWD
			}

		case "turn_context":
			var tc turnContextPayload
			if json.Unmarshal(line.Payload, &tc) == nil {
				if tc.ApprovalPolicy == "never" || tc.SandboxPolicy.Mode == "danger-full-access" {
					st.yolo = true
				}
			}

		case "response_item":
			var item responseItemPayload
			if json.Unmarshal(line.Payload, &item) != nil {
				continue
			}
			if item.Role != "user" && item.Role != "assistant" {
				continue
			}
			prefix := record.AssistantPrefix
			if item.Role == "user" {
				prefix = record.HumanPrefix
			}
			for _, part := range item.Content {
				text := part.Text
				if text == "" {
					text = part.InputText
				}
				if text == "" || strings.HasPrefix(strings.TrimSpace(text), environmentContextMarker) {
					continue
				}
				st.lines = append(st.lines, prefix+text)
			}

		case "event_msg":
			var ev eventMsgPayload
			if json.Unmarshal(line.Payload, &ev) != nil {
				continue
			}
			switch ev.Type {
			case "user_message":
				if ev.Message != "" {
					st.lines = append(st.lines, record.HumanPrefix+ev.Message)
					st.userPrompts = append(st.userPrompts, ev.Message)
				}
			case "agent_reasoning":
				if ev.Text != "" {
					st.lines = append(st.lines, record.AssistantPrefix+ev.Text)
				}
			}
		}
	}
	return bytesRead, scanner.Err()
}

// finalizeSession builds the session the accumulated scan state describes,
// or nil if no user prompt was ever found.
func finalizeSession(id string, st *parseState, info os.FileInfo) *record.Session {
	if len(st.userPrompts) == 0 {
		return nil
	}

	title := record.TruncateTitle(st.userPrompts[0], record.TitleLimit)
	content := record.BuildContent(st.lines)

	return &record.Session{
		ID:           id,
		Agent:        agentName,
		Title:        title,
		Directory:    st.directory,
		Timestamp:    info.ModTime(),
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: len(st.userPrompts),
		MTime:        float64(info.ModTime().UnixNano()) / 1e9,
		Yolo:         st.yolo,
	}
}

// ResumeCommand returns the argv that resumes a Codex session. yolo
// injects the danger-full-access bypass flag immediately after argv[0].
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	cmd := []string{"codex"}
	if yolo {
		cmd = append(cmd, "--dangerously-bypass-approvals-and-sandbox")
	}
	cmd = append(cmd, "resume", session.ID)
	return cmd
}
