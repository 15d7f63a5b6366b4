package stream

import (
	"sync"

	"github.com/agentbridge/agentbridge/pkg/types"
)

// OpKind identifies one recorded stream operation.
type OpKind string

const (
	OpMarkdown OpKind = "markdown"
	OpProgress OpKind = "progress"
	OpTool     OpKind = "tool"
	OpEdited   OpKind = "edited"
	OpUsage    OpKind = "usage"
)

// Op is one recorded push operation.
type Op struct {
	Kind       OpKind           `json:"kind"`
	Text       string           `json:"text,omitempty"`
	CallID     string           `json:"callID,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
	ToolStatus ToolStatus       `json:"toolStatus,omitempty"`
	Path       string           `json:"path,omitempty"`
	Additions  int              `json:"additions,omitempty"`
	Deletions  int              `json:"deletions,omitempty"`
	Usage      types.TokenUsage `json:"usage"`
}

// Memory is a Stream that records operations in order. The HTTP surface
// drains it into SSE frames; tests assert on it directly.
type Memory struct {
	mu  sync.Mutex
	ops []Op
	// OnOp, when set, observes each operation as it is recorded.
	OnOp func(Op)
}

// NewMemory creates an empty recording stream.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) record(op Op) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	fn := m.OnOp
	m.mu.Unlock()

	if fn != nil {
		fn(op)
	}
}

// Markdown implements Stream.
func (m *Memory) Markdown(text string) {
	m.record(Op{Kind: OpMarkdown, Text: text})
}

// Progress implements Stream.
func (m *Memory) Progress(message string) {
	m.record(Op{Kind: OpProgress, Text: message})
}

// Tool implements Stream.
func (m *Memory) Tool(callID, name string, status ToolStatus, detail string) {
	m.record(Op{Kind: OpTool, CallID: callID, ToolName: name, ToolStatus: status, Text: detail})
}

// Edited implements Stream.
func (m *Memory) Edited(path string, additions, deletions int) {
	m.record(Op{Kind: OpEdited, Path: path, Additions: additions, Deletions: deletions})
}

// Usage implements Stream.
func (m *Memory) Usage(usage types.TokenUsage) {
	m.record(Op{Kind: OpUsage, Usage: usage})
}

// Ops returns a copy of the recorded operations in push order.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// Markdowns returns just the markdown blocks, in order.
func (m *Memory) Markdowns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, op := range m.ops {
		if op.Kind == OpMarkdown {
			out = append(out, op.Text)
		}
	}
	return out
}
