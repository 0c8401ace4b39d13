// Package crush implements the Crush session adapter: a top-level
// directory-map file pointing at one SQLite database per project, each
// holding a sessions table joined to a messages table.
package crush

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/fastresume/internal/adapter"
	"github.com/marcus/fastresume/internal/record"
)

const agentName = "crush"

// millisecondThreshold: updated_at/created_at values above this are
// Unix milliseconds, not seconds, and must be divided by 1000.
const millisecondThreshold = 1e11

// sqlitePoolSettings configures a read-only, single-connection pool so
// concurrent scans never pile up file descriptors against a store another
// process may be writing.
func sqlitePoolSettings(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(time.Second)
}

const sessionsQuery = `
SELECT
	s.id, s.title, s.updated_at,
	m.role, m.parts
FROM sessions s
LEFT JOIN messages m ON m.session_id = s.id
WHERE s.message_count > 0
ORDER BY s.updated_at DESC, m.created_at ASC
`

// Adapter implements adapter.Adapter for Crush's relational session store.
type Adapter struct {
	projectsFilePath string
	queryTimeout     time.Duration
}

func New(projectsFilePath string) *Adapter {
	return &Adapter{
		projectsFilePath: projectsFilePath,
		queryTimeout:     5 * time.Second,
	}
}

func (a *Adapter) Name() string { return agentName }

func (a *Adapter) IsAvailable() bool {
	_, err := os.Stat(a.projectsFilePath)
	return err == nil
}

func (a *Adapter) FindSessions() ([]record.Session, error) {
	upserts, _, err := a.FindSessionsIncremental(nil)
	return upserts, err
}

func (a *Adapter) FindSessionsIncremental(known record.KnownMap) ([]record.Session, []string, error) {
	if !a.IsAvailable() {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	projects, err := a.loadProjects()
	if err != nil {
		return nil, adapter.DeletionsForMissingRoot(agentName, known), nil
	}

	var upserts []record.Session
	current := make(map[string]struct{})
	anyProjectFailed := false

	for _, p := range projects {
		if p.DataDir == "" {
			continue
		}
		dbPath := filepath.Join(p.DataDir, "crush.db")
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}

		sessions, err := a.loadSessionsFromDB(dbPath, p.Path)
		if err != nil {
			// RelationalError: drop this project's sessions for the
			// scan but never delete what was already indexed for it.
			anyProjectFailed = true
			continue
		}

		for _, sess := range sessions {
			current[sess.ID] = struct{}{}
			entry, ok := known[sess.ID]
			sessMTime := time.Unix(int64(sess.MTime), 0)
			if !ok || sessMTime.After(entry.MTime.Add(adapter.MTimeTolerance)) {
				upserts = append(upserts, sess)
			}
		}
	}

	if anyProjectFailed {
		// A failed project's previously known ids must not be
		// interpreted as deleted; skip deletion this scan entirely
		// rather than risk dropping a project we couldn't re-read.
		return upserts, nil, nil
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

func (a *Adapter) loadProjects() ([]projectEntry, error) {
	data, err := os.ReadFile(a.projectsFilePath)
	if err != nil {
		return nil, err
	}
	var pf projectsFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	return pf.Projects, nil
}

type sessionRow struct {
	title     string
	updatedAt float64
}

type rawTurn struct {
	role  string
	parts string
}

func (a *Adapter) loadSessionsFromDB(dbPath, projectPath string) ([]record.Session, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	sqlitePoolSettings(db)

	ctx, cancel := context.WithTimeout(context.Background(), a.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, sessionsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := []string{}
	meta := make(map[string]sessionRow)
	turns := make(map[string][]rawTurn)

	for rows.Next() {
		var (
			id        string
			title     sql.NullString
			updatedAt float64
			role      sql.NullString
			parts     sql.NullString
		)
		if err := rows.Scan(&id, &title, &updatedAt, &role, &parts); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if _, ok := meta[id]; !ok {
			meta[id] = sessionRow{title: title.String, updatedAt: updatedAt}
			order = append(order, id)
		}
		if role.Valid {
			turns[id] = append(turns[id], rawTurn{role: role.String, parts: parts.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var sessions []record.Session
	for _, id := range order {
		m := meta[id]
		sess := buildSession(id, m.title, m.updatedAt, turns[id], projectPath)
		if sess != nil {
			sessions = append(sessions, *sess)
		}
	}
	return sessions, nil
}

func buildSession(id, title string, updatedAt float64, rawTurns []rawTurn, projectPath string) *record.Session {
	if updatedAt > millisecondThreshold {
		updatedAt /= 1000
	}
	timestamp := time.Unix(int64(updatedAt), 0)

	var lines []string
	var firstHuman string
	humanTurns := 0

	for _, turn := range rawTurns {
		text := extractTextFromParts(turn.parts)
		if text == "" {
			continue
		}
		prefix := record.AssistantPrefix
		if turn.role == "user" {
			prefix = record.HumanPrefix
		}
		lines = append(lines, prefix+text)
		if turn.role == "user" {
			humanTurns++
			if firstHuman == "" && len(text) > 5 {
				firstHuman = text
			}
		}
	}

	if len(lines) == 0 || firstHuman == "" {
		return nil
	}

	if title == "" {
		title = record.TruncateTitle(firstHuman, record.TitleLimit)
	}

	content := record.BuildContent(lines)
	return &record.Session{
		ID:           id,
		Agent:        agentName,
		Title:        title,
		Directory:    projectPath,
		Timestamp:    timestamp,
		Preview:      record.BuildPreview(content),
		Content:      content,
		MessageCount: humanTurns,
		MTime:        float64(timestamp.Unix()),
	}
}

// extractTextFromParts decodes a message's parts JSON array and joins any
// text, tool-result, or tool-call content into a single line of context.
func extractTextFromParts(partsJSON string) string {
	if partsJSON == "" {
		return ""
	}
	var parts []messagePart
	if err := json.Unmarshal([]byte(partsJSON), &parts); err != nil {
		return ""
	}

	var texts []string
	for _, part := range parts {
		switch part.Type {
		case "text":
			var d textPartData
			if json.Unmarshal(part.Data, &d) == nil && d.Text != "" {
				texts = append(texts, d.Text)
			}
		case "tool_result":
			var d toolResultPartData
			if json.Unmarshal(part.Data, &d) == nil && d.Content != "" && len(d.Content) < toolResultPreviewLimit {
				snippet := d.Content
				if len(snippet) > toolResultSnippetLimit {
					snippet = snippet[:toolResultSnippetLimit]
				}
				texts = append(texts, fmt.Sprintf("[%s]: %s", orDefault(d.Name, "tool"), snippet))
			}
		case "tool_call":
			var d toolCallPartData
			if json.Unmarshal(part.Data, &d) == nil && d.Name != "" {
				texts = append(texts, fmt.Sprintf("[calling %s]", d.Name))
			}
		}
	}
	return strings.Join(texts, " ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ResumeCommand returns the launcher argv. Crush has no non-interactive
// resume-by-id: it shows its own session picker once launched inside the
// project directory.
func (a *Adapter) ResumeCommand(session record.Session, yolo bool) []string {
	return []string{"crush"}
}
