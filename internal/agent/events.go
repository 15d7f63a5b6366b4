package agent

// Event is the closed union of runtime events the broker understands.
// Unknown runtime event shapes are dropped (and logged) at the adapter
// boundary; they never reach this union.
type Event interface {
	agentEvent()
}

// MessageEvent carries a complete assistant message.
type MessageEvent struct {
	MessageID string
	Text      string
}

func (MessageEvent) agentEvent() {}

// MessageDeltaEvent carries one streamed chunk of an assistant message.
// Chunks sharing a MessageID accumulate in arrival order.
type MessageDeltaEvent struct {
	MessageID string
	Delta     string
}

func (MessageDeltaEvent) agentEvent() {}

// ToolStartEvent signals that the runtime began executing a tool call.
type ToolStartEvent struct {
	CallID string
	Tool   string
	Args   map[string]any
}

func (ToolStartEvent) agentEvent() {}

// ToolCompleteEvent signals that a tool call finished. Before and After
// carry file content for edit-producing tools when the runtime provides
// them; they are empty otherwise.
type ToolCompleteEvent struct {
	CallID string
	OK     bool
	Output string
	Error  string
	Path   string
	Before string
	After  string
}

func (ToolCompleteEvent) agentEvent() {}

// ErrorEvent carries a non-fatal error surfaced by the runtime. It does
// not terminate the turn; only Send failing does.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) agentEvent() {}

// TitleChangedEvent signals the runtime renamed the conversation.
type TitleChangedEvent struct {
	Title string
}

func (TitleChangedEvent) agentEvent() {}

// UsageEvent reports token consumption for the current turn.
type UsageEvent struct {
	InputTokens  int
	OutputTokens int
}

func (UsageEvent) agentEvent() {}

// IdleEvent is the authoritative signal that the runtime finished
// processing the current prompt and is awaiting the next one.
type IdleEvent struct{}

func (IdleEvent) agentEvent() {}

// UserEvent records a user prompt in the session's event log. The runtime
// emits it when a prompt is accepted so the log replays as a full
// conversation.
type UserEvent struct {
	Text string
}

func (UserEvent) agentEvent() {}
