package claudecode

import "encoding/json"

// rawLine is one JSONL record from a Claude Code session transcript.
// Every record type we don't recognize is ignored by the caller.
type rawLine struct {
	Type    string          `json:"type"`
	Summary string          `json:"summary,omitempty"`
	IsMeta  bool            `json:"isMeta,omitempty"`
	CWD     string          `json:"cwd,omitempty"`
	Message *rawMessageBody `json:"message,omitempty"`
}

type rawMessageBody struct {
	Content json.RawMessage `json:"content"`
}

// rawContentPart is one element of a structured (list-form) message body.
type rawContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// internalCommandMarkers prefix a user message body that is a slash-command
// or local-command wrapper rather than real human input.
var internalCommandMarkers = []string{"<command", "<local-command"}
