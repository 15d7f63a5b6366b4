package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/diff"
	"github.com/agentbridge/agentbridge/internal/edits"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/stream"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// editToolNames is the fixed allowlist of edit-producing tools. Their
// invocations are suppressed from generic tool rendering; edits surface
// through the edit-tracking path instead.
var editToolNames = map[string]bool{
	"write":       true,
	"edit":        true,
	"multiedit":   true,
	"str_replace": true,
	"apply_patch": true,
	"create_file": true,
}

// pendingTool is a tool call whose start has been seen but not its
// completion.
type pendingTool struct {
	name   string
	detail string
	isEdit bool
}

// translator consumes one runtime event at a time and produces ordered
// UI-stream operations plus edit-tracking side effects. One translator
// exists per request; it is discarded when the request ends.
type translator struct {
	sessionID string
	baseDir   string
	out       stream.Stream
	tracker   *edits.Tracker
	corr      *edits.Correlation
	bus       *event.Bus
	log       zerolog.Logger

	onTitle func(string)
	onUsage func(types.TokenUsage)

	mu      sync.Mutex
	deltas  map[string]*strings.Builder
	flushed map[string]bool
	pending map[string]pendingTool

	idleCh chan struct{}
}

func newTranslator(sessionID, baseDir string, out stream.Stream, tracker *edits.Tracker, corr *edits.Correlation, bus *event.Bus, log zerolog.Logger) *translator {
	return &translator{
		sessionID: sessionID,
		baseDir:   baseDir,
		out:       out,
		tracker:   tracker,
		corr:      corr,
		bus:       bus,
		log:       log,
		deltas:    make(map[string]*strings.Builder),
		flushed:   make(map[string]bool),
		pending:   make(map[string]pendingTool),
		idleCh:    make(chan struct{}, 1),
	}
}

// idle returns the channel signalled when the runtime reports the turn is
// finished.
func (t *translator) idle() <-chan struct{} {
	return t.idleCh
}

// handle classifies one runtime event. Events arrive and are processed in
// emission order; handle never reorders.
func (t *translator) handle(ev agent.Event) {
	switch e := ev.(type) {
	case agent.MessageDeltaEvent:
		t.handleDelta(e)
	case agent.MessageEvent:
		t.handleMessage(e)
	case agent.ToolStartEvent:
		t.handleToolStart(e)
	case agent.ToolCompleteEvent:
		t.handleToolComplete(e)
	case agent.ErrorEvent:
		t.out.Markdown("❌ Error: " + e.Message)
	case agent.TitleChangedEvent:
		if t.onTitle != nil {
			t.onTitle(e.Title)
		}
	case agent.UsageEvent:
		usage := types.TokenUsage{Input: e.InputTokens, Output: e.OutputTokens}
		t.out.Usage(usage)
		if t.onUsage != nil {
			t.onUsage(usage)
		}
		if t.bus != nil {
			t.bus.Publish(event.Event{
				Type: event.UsageReported,
				Data: event.UsageReportedData{SessionID: t.sessionID, Usage: usage},
			})
		}
	case agent.IdleEvent:
		t.signalIdle()
	case agent.UserEvent:
		// History only; the UI already rendered the user's prompt.
	default:
		t.log.Warn().Type("event", ev).Msg("unknown runtime event dropped")
	}
}

func (t *translator) handleDelta(e agent.MessageDeltaEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.flushed[e.MessageID] {
		return
	}
	buf, ok := t.deltas[e.MessageID]
	if !ok {
		buf = &strings.Builder{}
		t.deltas[e.MessageID] = buf
	}
	buf.WriteString(e.Delta)
}

// handleMessage renders a full assistant message. When deltas for the same
// message id were already accumulated, the accumulated text wins and the
// full-message payload is suppressed, so exactly one block results.
func (t *translator) handleMessage(e agent.MessageEvent) {
	t.mu.Lock()
	if t.flushed[e.MessageID] {
		t.mu.Unlock()
		return
	}
	text := e.Text
	if buf, ok := t.deltas[e.MessageID]; ok {
		text = buf.String()
		delete(t.deltas, e.MessageID)
	}
	t.flushed[e.MessageID] = true
	t.mu.Unlock()

	if text != "" {
		t.out.Markdown(text)
	}
}

func (t *translator) handleToolStart(e agent.ToolStartEvent) {
	files, isEdit := classifyEditTool(e.Tool, e.Args)

	t.mu.Lock()
	t.pending[e.CallID] = pendingTool{name: e.Tool, detail: formatInvocation(e.Tool, e.Args), isEdit: isEdit}
	t.mu.Unlock()

	if isEdit {
		t.corr.Register(e.CallID, files...)
		return
	}
	t.out.Tool(e.CallID, e.Tool, stream.ToolRunning, formatInvocation(e.Tool, e.Args))
}

func (t *translator) handleToolComplete(e agent.ToolCompleteEvent) {
	t.mu.Lock()
	p, ok := t.pending[e.CallID]
	delete(t.pending, e.CallID)
	t.mu.Unlock()

	if !ok {
		t.log.Warn().Str("callID", e.CallID).Msg("tool completion without matching start")
		return
	}

	if p.isEdit {
		t.tracker.Complete(e.CallID)
		if e.Path != "" {
			s := diff.Summarize(e.Path, e.Before, e.After, t.baseDir)
			t.out.Edited(e.Path, s.Additions, s.Deletions)
			if t.bus != nil {
				t.bus.Publish(event.Event{
					Type: event.FileEdited,
					Data: event.FileEditedData{
						SessionID: t.sessionID,
						File:      e.Path,
						Additions: s.Additions,
						Deletions: s.Deletions,
					},
				})
			}
		}
		return
	}

	if e.OK {
		t.out.Tool(e.CallID, p.name, stream.ToolSucceeded, summarizeOutput(e.Output))
	} else {
		t.out.Tool(e.CallID, p.name, stream.ToolFailed, summarizeOutput(e.Error))
	}
}

func (t *translator) signalIdle() {
	select {
	case t.idleCh <- struct{}{}:
	default:
	}
}

// finish flushes delta buffers that never saw a closing full-message event
// and logs leaked pending tools. Leaks are an accepted failure mode, not a
// crash.
func (t *translator) finish() {
	t.mu.Lock()
	var leftovers []string
	for id, buf := range t.deltas {
		if !t.flushed[id] && buf.Len() > 0 {
			leftovers = append(leftovers, buf.String())
			t.flushed[id] = true
		}
	}
	t.deltas = make(map[string]*strings.Builder)

	for callID, p := range t.pending {
		t.log.Warn().Str("callID", callID).Str("tool", p.name).Msg("tool call never completed")
	}
	t.pending = make(map[string]pendingTool)
	t.mu.Unlock()

	for _, text := range leftovers {
		t.out.Markdown(text)
	}

	t.corr.Reset()
	t.tracker.Reset()
}

// classifyEditTool reports whether a tool call will produce file edits and
// which files it touches, based on the allowlist and its path arguments.
func classifyEditTool(tool string, args map[string]any) ([]string, bool) {
	if !editToolNames[strings.ToLower(tool)] {
		return nil, false
	}

	var files []string
	for _, key := range []string{"filePath", "file_path", "path", "fileName"} {
		if v, ok := args[key].(string); ok && v != "" {
			files = append(files, v)
		}
	}
	if list, ok := args["files"].([]any); ok {
		for _, item := range list {
			if v, ok := item.(string); ok && v != "" {
				files = append(files, v)
			}
		}
	}
	if len(files) == 0 {
		// Edit tool with no recognizable target still suppresses the
		// generic card; there is just nothing to correlate.
		return nil, true
	}
	return files, true
}

// formatInvocation builds the display placeholder for a tool invocation.
func formatInvocation(tool string, args map[string]any) string {
	for _, key := range []string{"command", "query", "pattern", "path", "filePath", "url"} {
		if v, ok := args[key].(string); ok && v != "" {
			return tool + ": " + v
		}
	}
	return tool
}

// summarizeOutput truncates captured stdout/stderr for display.
func summarizeOutput(out string) string {
	const limit = 400
	out = strings.TrimSpace(out)
	if len(out) <= limit {
		return out
	}
	return out[:limit] + "…"
}
