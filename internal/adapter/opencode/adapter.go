// Package opencode implements the OpenCode session adapter: a three-level
// descriptor tree (sessions, messages, parts) under a single storage root,
// each level addressed by the id of the level above it.
package opencode

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "opencode"

// Adapter implements adapter.Adapter for OpenCode's descriptor tree.
type Adapter struct {
	storageDir string
}

func New(storageDir string) *Adapter {
	return &Adapter{storageDir: storageDir}
}

func (a *Adapter) Name() string { return agentName }

func (a *Adapter) IsAvailable() bool {
	info, err := os.Stat(a.storageDir)
	return err == nil && info.IsDir()
}

func (a *Adapter) sessionDir() string { return filepath.Join(a.storageDir, "session") }
func (a *Adapter) messageDir() string { return filepath.Join(a.storageDir, "message") }
func (a *Adapter) partDir() string    { return filepath.Join(a.storageDir, "part") }

func (a *Adapter) FindSessions() ([]record.Session, error) {
	upserts, _, err := a.FindSessionsIncremental(nil)
	return upserts, err
}

func (a *Adapter) FindSessionsIncremental(known record.KnownMap) ([]record.Session, []string, error) {
	if !a.IsAvailable() {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}
	sessionFiles, err := a.listSessionFiles()
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	// Cheap pass: read each descriptor's id + created time without
	// touching messages/parts, to decide which sessions actually changed.
	type candidate struct {
		id   string
		path string
		desc sessionDescriptor
	}
	var candidates []candidate
	current := make(map[string]struct{})

	for _, path := range sessionFiles {
		desc, err := readSessionDescriptor(path)
		if err != nil || desc.ID == "" {
			continue
		}
		current[desc.ID] = struct{}{}

		mtime := sessionMTime(desc, path)
		if entry, ok := known[desc.ID]; ok {
			if !mtime.After(entry.MTime.Add(adapter.MTimeTolerance)) {
				continue
			}
		}
		candidates = append(candidates, candidate{id: desc.ID, path: path, desc: desc})
	}

	var upserts []record.Session
	if len(candidates) > 0 {
		// Build the messages-by-session and parts-by-message indexes
		// once, up front, to avoid an O(sessions * messages * parts) scan.
		messagesBySession, err := a.indexMessages()
		if err != nil {
			messagesBySession = nil
		}
		partsByMessage, err := a.indexParts()
		if err != nil {
			partsByMessage = nil
		}

		for _, c := range candidates {
			sess := buildSession(c.desc, c.path, messagesBySession, partsByMessage)
			if sess != nil {
				upserts = append(upserts, *sess)
			}
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

func (a *Adapter) listSessionFiles() ([]string, error) {
	projectDirs, err := os.ReadDir(a.sessionDir())
	if err != nil {
		return nil, err
	}
	var files []string
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		dir := filepath.Join(a.sessionDir(), pd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "ses_") && strings.HasSuffix(e.Name(), ".json") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	return files, nil
}

func readSessionDescriptor(path string) (sessionDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionDescriptor{}, err
	}
	var desc sessionDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return sessionDescriptor{}, err
	}
	return desc, nil
}

func sessionMTime(desc sessionDescriptor, path string) time.Time {
	if desc.Time.Created > 0 {
		return time.UnixMilli(desc.Time.Created)
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

type messageRef struct {
	file string
	id   string
	role string
}

// indexMessages builds {session_id -> [(file, id, role), ...]} sorted by
// filename, matching the stable ordering the descriptors are written in.
func (a *Adapter) indexMessages() (map[string][]messageRef, error) {
	sessionDirs, err := os.ReadDir(a.messageDir())
	if err != nil {
		return nil, err
	}
	out := make(map[string][]messageRef)
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		sessionID := sd.Name()
		dir := filepath.Join(a.messageDir(), sessionID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var refs []messageRef
		for _, e := range entries {
			if !strings.HasPrefix(e.Name(), "msg_") || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			var msg messageDescriptor
			if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
				continue
			}
			refs = append(refs, messageRef{file: e.Name(), id: msg.ID, role: msg.Role})
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].file < refs[j].file })
		out[sessionID] = refs
	}
	return out, nil
}

// indexParts builds {message_id -> [text, ...]}, concatenating only
// text-type parts, sorted by filename.
func (a *Adapter) indexParts() (map[string][]string, error) {
	msgDirs, err := os.ReadDir(a.partDir())
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, md := range msgDirs {
		if !md.IsDir() {
			continue
		}
		msgID := md.Name()
		dir := filepath.Join(a.partDir(), msgID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".json") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		var texts []string
		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var part partDescriptor
			if err := json.Unmarshal(data, &part); err != nil {
				continue
			}
			if part.Type == "text" && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		out[msgID] = texts
	}
	return out, nil
}

func buildSession(desc sessionDescriptor, path string, messagesBySession map[string][]messageRef, partsByMessage map[string][]string) *record.Session {
	var lines []string
	var firstHuman string
	humanTurns := 0

	for _, ref := range messagesBySession[desc.ID] {
		prefix := record.AssistantPrefix
		isHuman := ref.role == "user"
		if isHuman {
			prefix = record.HumanPrefix
		}
		texts := partsByMessage[ref.id]
		if len(texts) == 0 {
			continue
		}
		for _, text := range texts {
			lines = append(lines, prefix+text)
		}
		if isHuman {
			humanTurns++
			if firstHuman == "" {
				firstHuman = texts[0]
			}
		}
	}

	if humanTurns == 0 || len(lines) == 0 {
		return nil
	}

	// desc.Title is OpenCode's own native title field; fall back to the
	// first human message per the common title rule when a
	// session was never assigned one.
	title := desc.Title
	if title == "" {
		title = record.TruncateTitle(firstHuman, record.TitleLimit)
	}

	content := record.BuildContent(lines)
	timestamp := sessionMTime(desc, path)

	return &record.Session{
		ID:           desc.ID,
		Agent:        agentName,
		Title:        title,
		Directory:    desc.Directory,
		Timestamp:    timestamp,
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: humanTurns,
		MTime:        float64(timestamp.UnixNano()) / 1e9,
	}
}

// ResumeCommand returns the argv that resumes an OpenCode session,
// naming its working directory explicitly since OpenCode sessions are
// not scoped to the caller's cwd.
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	return []string{"opencode", session.Directory, "--session", session.ID}
}
