package vibe

import "encoding/json"

// sessionFile is the single JSON descriptor Vibe writes per session, with
// the full message transcript embedded rather than split across files.
type sessionFile struct {
	Metadata sessionMetadata `json:"metadata"`
	Messages []rawMessage    `json:"messages"`
}

type sessionMetadata struct {
	SessionID   string      `json:"session_id"`
	StartTime   string      `json:"start_time"`
	AutoApprove bool        `json:"auto_approve"`
	Environment environment `json:"environment"`
}

type environment struct {
	WorkingDirectory string `json:"working_directory"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawContentPart struct {
	Text string `json:"text"`
}
