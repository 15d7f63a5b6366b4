package event

import "github.com/agentbridge/agentbridge/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info types.SessionInfo `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info types.SessionInfo `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// SessionStatusChangedData is the data for session.status_changed events.
type SessionStatusChangedData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// SessionTitleChangedData is the data for session.title_changed events.
type SessionTitleChangedData struct {
	SessionID string `json:"sessionID"`
	Title     string `json:"title"`
}

// SessionsChangedData is the data for sessions.changed events, fired when
// the set of live sessions in the registry changes.
type SessionsChangedData struct {
	Count int `json:"count"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Kind      string `json:"kind"` // "read" | "write" | "shell"
	Target    string `json:"target"`
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"sessionID"`
	Outcome   types.PermissionOutcome `json:"outcome"`
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	SessionID string `json:"sessionID"`
	File      string `json:"file"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// UsageReportedData is the data for usage.reported events.
type UsageReportedData struct {
	SessionID string           `json:"sessionID"`
	Usage     types.TokenUsage `json:"usage"`
}
