// Package stream defines the host-UI sink the broker writes ordered
// conversation updates to. The broker only ever pushes; it never reads
// back from the sink.
package stream

import "github.com/agentbridge/agentbridge/pkg/types"

// ToolStatus is the lifecycle state of a rendered tool invocation.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolSucceeded ToolStatus = "succeeded"
	ToolFailed    ToolStatus = "failed"
)

// Stream accepts ordered push operations from one request.
type Stream interface {
	// Markdown appends a markdown text block.
	Markdown(text string)
	// Progress pushes a transient progress indicator.
	Progress(message string)
	// Tool pushes a structured tool-invocation update.
	Tool(callID, name string, status ToolStatus, detail string)
	// Edited reports that a file edit landed.
	Edited(path string, additions, deletions int)
	// Usage reports token consumption.
	Usage(usage types.TokenUsage)
}
