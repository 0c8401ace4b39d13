package codex

import "encoding/json"

// rawLine is one JSONL record from a Codex CLI rollout file.
type rawLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionMetaPayload struct {
	ID  string `json:"id"`
	CWD string `json:"cwd"`
}

type turnContextPayload struct {
	ApprovalPolicy string        `json:"approval_policy"`
	SandboxPolicy  sandboxPolicy `json:"sandbox_policy"`
}

type sandboxPolicy struct {
	Mode string `json:"mode"`
}

type responseItemPayload struct {
	Role    string            `json:"role"`
	Content []responseContent `json:"content"`
}

type responseContent struct {
	Text      string `json:"text"`
	InputText string `json:"input_text"`
}

type eventMsgPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

const environmentContextMarker = "<environment_context>"
