package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/internal/stream"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats on the bus feed.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE. Writes are serialized; the
// bus delivers events from multiple goroutines.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// startSSE switches the response to an SSE stream and flushes the headers.
func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// opStream adapts a stream.Stream onto SSE frames, one "op" event per
// push operation.
type opStream struct {
	sse *sseWriter
}

func (o *opStream) push(op stream.Op) {
	if err := o.sse.writeEvent("op", op); err != nil {
		log := logging.Component("server")
		log.Debug().Err(err).Msg("dropping op, client gone")
	}
}

func (o *opStream) Markdown(text string) {
	o.push(stream.Op{Kind: stream.OpMarkdown, Text: text})
}

func (o *opStream) Progress(message string) {
	o.push(stream.Op{Kind: stream.OpProgress, Text: message})
}

func (o *opStream) Tool(callID, name string, status stream.ToolStatus, detail string) {
	o.push(stream.Op{Kind: stream.OpTool, CallID: callID, ToolName: name, ToolStatus: status, Text: detail})
}

func (o *opStream) Edited(path string, additions, deletions int) {
	o.push(stream.Op{Kind: stream.OpEdited, Path: path, Additions: additions, Deletions: deletions})
}

func (o *opStream) Usage(usage types.TokenUsage) {
	o.push(stream.Op{Kind: stream.OpUsage, Usage: usage})
}

// busEvent is the wire shape of one bus event on the /event feed.
type busEvent struct {
	Type event.Type `json:"type"`
	Data any        `json:"data"`
}

// allEvents handles GET /event: an SSE feed of every bus event, for UIs
// that mirror broker state (session lists, permission prompts).
func (s *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if err := sse.writeEvent("connected", map[string]any{}); err != nil {
		return
	}

	events := make(chan event.Event, 16)
	unsubscribe := s.bus.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			// Slow consumer; drop rather than block the bus.
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", busEvent{Type: e.Type, Data: e.Data}); err != nil {
				return
			}
		case <-heartbeat.C:
			sse.writeHeartbeat()
		}
	}
}
