// Package types provides the core data types for the agentbridge broker.
package types

// SessionStatus represents the processing state of a session.
type SessionStatus string

const (
	// StatusNone is the initial status before the first request.
	StatusNone SessionStatus = ""
	// StatusInProgress means a request is currently being processed.
	StatusInProgress SessionStatus = "in_progress"
	// StatusCompleted means the last request finished successfully.
	StatusCompleted SessionStatus = "completed"
	// StatusFailed means the last request ended with an error.
	StatusFailed SessionStatus = "failed"
)

// Terminal reports whether the status allows a new request to start.
func (s SessionStatus) Terminal() bool {
	return s == StatusNone || s == StatusCompleted || s == StatusFailed
}

// SessionInfo is the externally visible snapshot of a session.
type SessionInfo struct {
	ID               string        `json:"id"`
	Title            string        `json:"title,omitempty"`
	Status           SessionStatus `json:"status,omitempty"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
	// Isolated is true when writes are confined to a private working
	// directory rather than the user's live workspace.
	Isolated bool        `json:"isolated,omitempty"`
	Model    string      `json:"model,omitempty"`
	Time     SessionTime `json:"time"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// TokenUsage tracks token consumption reported by the agent runtime.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ChatEntry is one entry of a session's conversation history.
type ChatEntry struct {
	Role string `json:"role"` // "user" | "assistant"
	Text string `json:"text"`
}
