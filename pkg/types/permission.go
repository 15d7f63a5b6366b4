package types

// PermissionRequest is a closed union of the request shapes the agent
// runtime can raise. Exactly one concrete type exists per kind.
type PermissionRequest interface {
	permissionRequest()
	// Kind returns the request kind: "read" | "write" | "shell".
	Kind() string
}

// ReadRequest asks to read a file or directory.
type ReadRequest struct {
	Path string `json:"path"`
}

func (ReadRequest) permissionRequest() {}

// Kind returns "read".
func (ReadRequest) Kind() string { return "read" }

// WriteRequest asks to create or modify a file.
type WriteRequest struct {
	FileName string `json:"fileName"`
	// ToolCallID is set when the runtime correlates the request to a
	// tool call; it is frequently absent.
	ToolCallID string `json:"toolCallId,omitempty"`
}

func (WriteRequest) permissionRequest() {}

// Kind returns "write".
func (WriteRequest) Kind() string { return "write" }

// ShellRequest asks to execute a shell command.
type ShellRequest struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
}

func (ShellRequest) permissionRequest() {}

// Kind returns "shell".
func (ShellRequest) Kind() string { return "shell" }

// PermissionOutcome identifies how a permission request was resolved.
type PermissionOutcome string

const (
	// OutcomeAutoApproved means policy rules approved without asking.
	OutcomeAutoApproved PermissionOutcome = "auto_approved"
	// OutcomeApprovedInteractively means the user approved.
	OutcomeApprovedInteractively PermissionOutcome = "approved_interactively"
	// OutcomeDeniedInteractively means the user rejected.
	OutcomeDeniedInteractively PermissionOutcome = "denied_interactively"
	// OutcomeDeniedNoHandler means no interactive handler was registered.
	OutcomeDeniedNoHandler PermissionOutcome = "denied_no_handler"
	// OutcomeDeniedByPolicy means a configured rule denied without asking.
	OutcomeDeniedByPolicy PermissionOutcome = "denied_by_policy"
	// OutcomeDeniedCancelled means the enclosing request was cancelled.
	OutcomeDeniedCancelled PermissionOutcome = "denied_cancelled"
)

// PermissionDecision is the result of resolving a permission request.
type PermissionDecision struct {
	Approved bool              `json:"approved"`
	Outcome  PermissionOutcome `json:"outcome"`
}

// Approve returns an approved decision with the given outcome.
func Approve(outcome PermissionOutcome) PermissionDecision {
	return PermissionDecision{Approved: true, Outcome: outcome}
}

// Deny returns a denied decision with the given outcome.
func Deny(outcome PermissionOutcome) PermissionDecision {
	return PermissionDecision{Approved: false, Outcome: outcome}
}
