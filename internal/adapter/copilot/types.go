package copilot

import "encoding/json"

// rawEntry is one JSONL record from a Copilot CLI session log.
type rawEntry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sessionStartData struct {
	SessionID string `json:"sessionId"`
}

type sessionInfoData struct {
	InfoType string `json:"infoType"`
	Message  string `json:"message"`
}

type messageData struct {
	Content string `json:"content"`
}
