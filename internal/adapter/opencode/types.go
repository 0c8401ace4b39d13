package opencode

// sessionDescriptor is the per-session JSON file under storage/session/<hash>/.
type sessionDescriptor struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Directory string       `json:"directory"`
	Time      sessionTimes `json:"time"`
}

type sessionTimes struct {
	Created int64 `json:"created"` // ms since epoch
}

// messageDescriptor is the per-message JSON file under storage/message/<session-id>/.
type messageDescriptor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// partDescriptor is the per-part JSON file under storage/part/<message-id>/.
type partDescriptor struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
