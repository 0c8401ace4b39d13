// Package vibe implements the Vibe session adapter: a single JSON
// descriptor per session with the full message transcript embedded.
package vibe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "vibe"

// Adapter implements adapter.Adapter for Vibe's single-file sessions.
type Adapter struct {
	sessionsDir string
}

func New(sessionsDir string) *Adapter {
	return &Adapter{sessionsDir: sessionsDir}
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

	paths, err := filepath.Glob(filepath.Join(a.sessionsDir, "session_*.json"))
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	var upserts []record.Session
	current := make(map[string]struct{})

	for _, path := range paths {
		id, mtime, ok := peekSession(path)
		if !ok {
			continue
		}
		current[id] = struct{}{}

		if entry, known := known[id]; known {
			if !mtime.After(entry.MTime.Add(adapter.MTimeTolerance)) {
				continue
			}
		}

		sess := parseSessionFile(id, path, mtime)
		if sess != nil {
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

// peekSession reads just enough of a session file to learn its id and the
// mtime used for incremental diffing: the start_time from its own content,
// matching what parseSessionFile stores, falling back to the file's mtime.
func peekSession(path string) (id string, mtime time.Time, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, false
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", time.Time{}, false
	}

	id = sf.Metadata.SessionID
	if id == "" {
		id = stemOf(path)
	}

	mtime = sessionMTime(sf.Metadata.StartTime, path)
	return id, mtime, true
}

// isoLayouts covers both timezone-aware and naive ISO-8601 timestamps, the
// latter being what a bare datetime.isoformat() without tzinfo produces.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func sessionMTime(startTime, path string) time.Time {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, startTime); err == nil {
			return t
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// stemOf derives an id from the filename, falling back to a generated uuid
// in the rare case a session file's name carries no usable stem (e.g. a
// bare ".json" dropped into the directory by some other tool) — the
// filename naming convention isn't a hard guarantee, so an id source must
// exist regardless.
func stemOf(path string) string {
	base := filepath.Base(path)
	stem := base[:len(base)-len(filepath.Ext(base))]
	if stem == "" {
		return uuid.NewString()
	}
	return stem
}

func parseSessionFile(id, path string, mtime time.Time) *record.Session {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil
	}

	var lines []string
	var firstHuman string
	humanTurns := 0

	for _, msg := range sf.Messages {
		if msg.Role == "system" {
			continue
		}
		prefix := record.AssistantPrefix
		isHuman := msg.Role == "user"
		if isHuman {
			prefix = record.HumanPrefix
		}

		texts := extractContentTexts(msg.Content)
		for _, text := range texts {
			lines = append(lines, prefix+text)
		}
		if isHuman {
			humanTurns++
			if firstHuman == "" {
				for _, text := range texts {
					if text != "" {
						firstHuman = text
						break
					}
				}
			}
		}
	}

	if firstHuman == "" || len(lines) == 0 {
		return nil
	}

	title := "Vibe session"
	if firstHuman != "" {
		title = record.TruncateTitle(firstHuman, record.TitleLimit)
	}

	content := record.BuildContent(lines)
	return &record.Session{
		ID:           id,
		Agent:        agentName,
		Title:        title,
		Directory:    sf.Metadata.Environment.WorkingDirectory,
		Timestamp:    mtime,
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: humanTurns,
		MTime:        float64(mtime.UnixNano()) / 1e9,
		Yolo:         sf.Metadata.AutoApprove,
	}
}

// extractContentTexts handles both the plain-string and structured-parts
// shapes a message's content field can take.
func extractContentTexts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []string{asString}
	}

	var parts []rawContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return texts
	}

	return nil
}

// ResumeCommand returns the argv that resumes a Vibe session, injecting
// --auto-approve when yolo is requested.
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	cmd := []string{"vibe"}
	if yolo {
		cmd = append(cmd, "--auto-approve")
	}
	cmd = append(cmd, "--resume", session.ID)
	return cmd
}
