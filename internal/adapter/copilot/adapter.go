// Package copilot implements the GitHub Copilot CLI session adapter: one
// append-only JSONL log per session, with typed entries (session.start,
// session.info, user.message, assistant.message).
package copilot

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/cache"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "copilot-cli"

const cacheMaxEntries = 2048

// folderTrustRe extracts the trusted directory from a session.info message
// of the form "Folder /path/to/dir has been added to trusted folders."
var folderTrustRe = regexp.MustCompile(`Folder (/\S+)`)

// parseState carries the accumulated scan state for a session log
// alongside the session it last produced, so a later scan can resume from
// a byte offset instead of re-reading entries already accounted for.
type parseState struct {
	session    record.Session
	directory  string
	firstHuman string
	lines      []string
	humanTurns int
}

// Adapter implements adapter.Adapter for Copilot CLI session logs.
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

	entries, err := os.ReadDir(a.sessionsDir)
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	current := make(map[string]struct{})
	var upserts []record.Session

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(a.sessionsDir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}

		id := sessionIDFromFile(path, e.Name())
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

func sessionIDFromFile(path, filename string) string {
	stem := strings.TrimSuffix(filename, ".jsonl")

	file, err := os.Open(path)
	if err != nil {
		return stem
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry rawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Type != "session.start" {
			continue
		}
		var data sessionStartData
		if err := json.Unmarshal(entry.Data, &data); err == nil && data.SessionID != "" {
			return data.SessionID
		}
	}
	return stem
}

// parseSessionFile resolves a session either from an unchanged cache entry,
// by resuming a scan from the previous byte offset when the log has only
// grown, or by a full scan.
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
	bytesRead, err := scanLog(scanner, &st)
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
		directory:  prev.directory,
		firstHuman: prev.firstHuman,
		lines:      append([]string(nil), prev.lines...),
		humanTurns: prev.humanTurns,
	}
	newBytes, err := scanLog(scanner, &st)
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

// scanLog reads entries from scanner into st and returns the number of
// bytes consumed, so callers can record a resume offset.
func scanLog(scanner *bufio.Scanner, st *parseState) (int64, error) {
	var bytesRead int64
	for scanner.Scan() {
		raw := scanner.Bytes()
		bytesRead += int64(len(raw)) + 1

		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var entry rawEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}

		switch entry.Type {
		case "session.info":
			if st.directory != "" {
				continue
			}
			var info sessionInfoData
			if json.Unmarshal(entry.Data, &info) != nil || info.InfoType != "folder_trust" {
				continue
			}
			if m := folderTrustRe.FindStringSubmatch(info.Message); m != nil {
				st.directory = m[1]
			}

		case "user.message":
			var msg messageData
			if json.Unmarshal(entry.Data, &msg) != nil || msg.Content == "" {
				continue
			}
			st.lines = append(st.lines, record.HumanPrefix+msg.Content)
			st.humanTurns++
			if st.firstHuman == "" {
				st.firstHuman = msg.Content
			}

		case "assistant.message":
			var msg messageData
			if json.Unmarshal(entry.Data, &msg) != nil || msg.Content == "" {
				continue
			}
			st.lines = append(st.lines, record.AssistantPrefix+msg.Content)
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

	content := record.BuildContent(st.lines)
	return &record.Session{
		ID:           id,
		Agent:        agentName,
		Title:        record.TruncateTitle(st.firstHuman, record.TitleLimit),
		Directory:    st.directory,
		Timestamp:    info.ModTime(),
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: st.humanTurns,
		MTime:        float64(info.ModTime().UnixNano()) / 1e9,
	}
}

// ResumeCommand returns the argv that resumes a Copilot CLI session. The
// yolo flags are passed by the caller, not read from the session itself.
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	cmd := []string{"copilot"}
	if yolo {
		cmd = append(cmd, "--allow-all-tools", "--allow-all-paths")
	}
	cmd = append(cmd, "--resume", session.ID)
	return cmd
}
