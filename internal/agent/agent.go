// Package agent defines the boundary to the external coding-agent runtime.
//
// The runtime is a black box: it owns model invocation, tool selection, and
// tool execution. This package only pins down the contract the broker relies
// on, which is an ordered asynchronous event source with an idle signal and
// an abort primitive, plus handler registration for permission and
// user-input round-trips.
package agent

import (
	"context"
	"errors"

	"github.com/agentbridge/agentbridge/pkg/types"
)

// ErrSessionClosed is returned when an operation is attempted on a closed
// runtime session.
var ErrSessionClosed = errors.New("agent: session closed")

// Prompt is one user turn sent to the runtime. Text may be either free-form
// prose or a slash-command; the runtime interprets both.
type Prompt struct {
	Text        string
	Attachments []Attachment
}

// Attachment is a file or resource included with a prompt.
type Attachment struct {
	Name string
	Mime string
	URL  string
}

// PermissionHandler resolves a permission request raised by the runtime
// during tool execution. It may block on interactive input; it must observe
// ctx and resolve to a denial when ctx is cancelled.
type PermissionHandler func(ctx context.Context, req types.PermissionRequest) types.PermissionDecision

// UserInputHandler answers a free-form question the runtime asks the user.
type UserInputHandler func(ctx context.Context, question string) (string, error)

// Session is one ongoing conversation owned by the external runtime.
//
// Events for a session are delivered to subscribers in emission order.
// Beyond that, callers must treat every method as potentially slow and
// fallible. Handlers can be registered at most once per session; the
// runtime keeps them for the session's whole lifetime.
type Session interface {
	// ID returns the runtime-assigned session identifier.
	ID() string

	// Send submits a prompt and returns once the runtime has accepted it
	// or rejects it. Completion of the turn is signalled separately by an
	// IdleEvent on the event stream.
	Send(ctx context.Context, prompt Prompt) error

	// Subscribe registers an event listener and returns an unsubscribe
	// function. Listeners are invoked in emission order.
	Subscribe(fn func(Event)) func()

	// Events returns the ordered event log accumulated so far.
	Events() []Event

	// Abort asks the runtime to stop the current turn. Advisory: the
	// runtime decides how quickly it honors the request.
	Abort()

	// SetModel switches the model used for subsequent turns.
	SetModel(ctx context.Context, modelID string) error

	// Model returns the currently selected model id.
	Model() string

	// SetPermissionHandler registers the session's permission handler.
	SetPermissionHandler(fn PermissionHandler)

	// SetUserInputHandler registers the session's user-input handler.
	SetUserInputHandler(fn UserInputHandler)

	// Close releases the runtime session. Further calls fail with
	// ErrSessionClosed.
	Close() error
}

// Options configures creation or resumption of a runtime session.
type Options struct {
	// WorkingDirectory confines the agent's writes when set.
	WorkingDirectory string
	// Isolated marks the working directory as a disposable checkout
	// rather than the user's live workspace.
	Isolated bool
	// Model selects the initial model; empty means runtime default.
	Model string
	// Branch names the VCS branch an isolated checkout was made from.
	Branch string
}

// Runtime creates and resumes sessions. Implementations wrap a concrete
// external SDK generation behind this one interface so the broker does not
// depend on which generation backs it.
type Runtime interface {
	Create(ctx context.Context, opts Options) (Session, error)
	Resume(ctx context.Context, id string, opts Options) (Session, error)
}
