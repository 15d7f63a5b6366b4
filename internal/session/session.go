// Package session implements the broker core: per-conversation session
// objects wrapping an opaque runtime session, the event translation onto a
// host-UI stream, and the registry that owns session lifecycles.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/edits"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/internal/policy"
	"github.com/agentbridge/agentbridge/internal/stream"
	"github.com/agentbridge/agentbridge/pkg/types"
)

var (
	// ErrDisposed is returned when a request is made on a disposed session.
	ErrDisposed = errors.New("session: disposed")
	// ErrBusy is returned when a request is made while another request on
	// the same session has not reached a terminal status.
	ErrBusy = errors.New("session: request already in progress")
)

// Session owns one runtime session handle for the duration of a
// conversation and multiplexes its event stream into ordered UI updates.
type Session struct {
	id       string
	rt       agent.Session
	broker   *policy.Broker
	bus      *event.Bus
	folders  func() []string
	log      zerolog.Logger
	inputFn  agent.UserInputHandler
	workDir  string
	isolated bool

	// statusHook is called synchronously on every status transition,
	// before any awaiting, so the registry can arm or disarm the idle
	// disposal timer without racing a starting request.
	statusHook func(id string, status types.SessionStatus)

	mu       sync.Mutex
	status   types.SessionStatus
	title    string
	disposed bool
	created  int64
	updated  int64

	// cur holds per-request mutable context. It is set at the start of
	// HandleRequest and cleared in its defer; the permission and
	// user-input callbacks registered once at construction close over it
	// and fail closed while it is nil.
	cur *requestState

	closeOnce sync.Once
}

type requestState struct {
	ctx     context.Context
	out     stream.Stream
	tracker *edits.Tracker
	corr    *edits.Correlation
}

func newSession(rt agent.Session, opts agent.Options, broker *policy.Broker, bus *event.Bus, folders func() []string, inputFn agent.UserInputHandler) *Session {
	now := time.Now().UnixMilli()
	s := &Session{
		id:       rt.ID(),
		rt:       rt,
		broker:   broker,
		bus:      bus,
		folders:  folders,
		inputFn:  inputFn,
		workDir:  opts.WorkingDirectory,
		isolated: opts.Isolated,
		log:      logging.Component("session").With().Str("sessionID", rt.ID()).Logger(),
		created:  now,
		updated:  now,
	}

	// The runtime session persists across requests and allows exactly one
	// handler registration, so these are wired once, here.
	rt.SetPermissionHandler(s.handlePermission)
	rt.SetUserInputHandler(s.handleUserInput)

	return s
}

// ID returns the runtime-assigned session id.
func (s *Session) ID() string { return s.id }

// Info returns a snapshot of the session's externally visible state.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ID:               s.id,
		Title:            s.title,
		Status:           s.status,
		WorkingDirectory: s.workDir,
		Isolated:         s.isolated,
		Model:            s.rt.Model(),
		Time:             types.SessionTime{Created: s.created, Updated: s.updated},
	}
}

// Status returns the session's current status.
func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Model returns the model the underlying runtime session is using.
func (s *Session) Model() string { return s.rt.Model() }

// Title returns the session's current title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetModel switches the model used for subsequent requests.
func (s *Session) SetModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	if modelID == "" || modelID == s.rt.Model() {
		return nil
	}
	if err := s.rt.SetModel(ctx, modelID); err != nil {
		return fmt.Errorf("switching model: %w", err)
	}
	return nil
}

// HandleRequest sends one prompt (or slash-command) to the runtime and
// translates its event stream onto out until the runtime reports idle.
//
// On failure the session transitions to Failed, an error line is appended
// to the stream, and the error is returned; callers that only care about
// the streamed output may ignore it. The session remains usable for
// subsequent requests. Cancellation aborts the runtime (best effort) and
// ends the request with Completed status.
func (s *Session) HandleRequest(ctx context.Context, prompt agent.Prompt, modelID string, out stream.Stream) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.status == types.StatusInProgress {
		s.mu.Unlock()
		return ErrBusy
	}

	tracker := edits.NewTracker(nil)
	corr := edits.NewCorrelation()
	s.cur = &requestState{ctx: ctx, out: out, tracker: tracker, corr: corr}
	// The transition to InProgress happens under the same lock as the
	// busy check so two concurrent requests can never both pass it.
	s.status = types.StatusInProgress
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.notifyStatus(types.StatusInProgress)

	tr := newTranslator(s.id, s.workDir, out, tracker, corr, s.bus, s.log)
	tr.onTitle = s.setTitle

	defer func() {
		tr.finish()
		s.mu.Lock()
		s.cur = nil
		s.updated = time.Now().UnixMilli()
		s.mu.Unlock()
	}()

	if err := s.SetModel(ctx, modelID); err != nil {
		s.failRequest(out, err)
		return err
	}

	// Cancellation is advisory: the runtime decides how quickly abort is
	// honored. The stop channel keeps the watcher from outliving the
	// request.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.rt.Abort()
		case <-stop:
		}
	}()

	unsubscribe := s.rt.Subscribe(tr.handle)
	defer unsubscribe()

	if err := s.rt.Send(ctx, prompt); err != nil {
		if ctx.Err() != nil {
			s.setStatus(types.StatusCompleted)
			return ctx.Err()
		}
		err = fmt.Errorf("agent runtime: %w", err)
		s.failRequest(out, err)
		return err
	}

	select {
	case <-tr.idle():
		s.setStatus(types.StatusCompleted)
		return nil
	case <-ctx.Done():
		s.setStatus(types.StatusCompleted)
		return ctx.Err()
	}
}

// ChatHistory replays the runtime's ordered event log as a conversation.
// Delta chunks accumulate by message id; a full message event sharing an
// accumulated id is suppressed.
func (s *Session) ChatHistory() []types.ChatEntry {
	var entries []types.ChatEntry
	assistant := make(map[string]int) // messageID -> entry index

	for _, ev := range s.rt.Events() {
		switch e := ev.(type) {
		case agent.UserEvent:
			entries = append(entries, types.ChatEntry{Role: "user", Text: e.Text})
		case agent.MessageDeltaEvent:
			if idx, ok := assistant[e.MessageID]; ok {
				entries[idx].Text += e.Delta
				continue
			}
			entries = append(entries, types.ChatEntry{Role: "assistant", Text: e.Delta})
			assistant[e.MessageID] = len(entries) - 1
		case agent.MessageEvent:
			if _, ok := assistant[e.MessageID]; ok {
				continue
			}
			entries = append(entries, types.ChatEntry{Role: "assistant", Text: e.Text})
			assistant[e.MessageID] = len(entries) - 1
		}
	}
	return entries
}

// handlePermission is registered once against the runtime session. It
// consults the policy broker with the current request's context; between
// requests there is no active stream and it fails closed.
func (s *Session) handlePermission(ctx context.Context, req types.PermissionRequest) types.PermissionDecision {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()

	if cur == nil {
		s.log.Warn().Str("kind", req.Kind()).Msg("permission request outside an active request denied")
		return types.Deny(types.OutcomeDeniedNoHandler)
	}

	scope := policy.Scope{WorkingDirectory: s.workDir}
	if s.folders != nil {
		scope.WorkspaceFolders = s.folders()
	}

	// A write request usually arrives without a tool-call id; claim the
	// oldest unmatched edit registered for that file. Best effort.
	var callID string
	var files []string
	if w, ok := req.(types.WriteRequest); ok {
		callID = w.ToolCallID
		if callID == "" {
			callID, _ = cur.corr.Claim(w.FileName)
		}
		files = []string{w.FileName}
	}

	decision := s.broker.Resolve(cur.ctx, s.id, req, scope)

	if decision.Approved && callID != "" {
		// Hold the grant until the edit's completion signal so the
		// runtime's next action cannot outrun the UI. Tracking errors
		// degrade to skipping the wait, never to destabilizing the
		// request.
		if err := cur.tracker.Track(cur.ctx, callID, files); err != nil {
			s.log.Debug().Err(err).Str("callID", callID).Msg("edit tracking interrupted")
			return types.Deny(types.OutcomeDeniedCancelled)
		}
	}

	return decision
}

// handleUserInput is registered once against the runtime session.
func (s *Session) handleUserInput(ctx context.Context, question string) (string, error) {
	s.mu.Lock()
	cur := s.cur
	fn := s.inputFn
	s.mu.Unlock()

	if cur == nil || fn == nil {
		return "", errors.New("session: no active request to answer user input")
	}
	return fn(cur.ctx, question)
}

func (s *Session) failRequest(out stream.Stream, err error) {
	s.setStatus(types.StatusFailed)
	msg := err.Error()
	if !strings.HasPrefix(msg, "❌") {
		msg = "❌ Error: " + msg
	}
	out.Markdown(msg)
}

func (s *Session) setStatus(status types.SessionStatus) {
	s.mu.Lock()
	if s.disposed || s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.notifyStatus(status)
}

func (s *Session) notifyStatus(status types.SessionStatus) {
	s.mu.Lock()
	hook := s.statusHook
	s.mu.Unlock()

	if hook != nil {
		hook(s.id, status)
	}
	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type: event.SessionStatusChanged,
			Data: event.SessionStatusChangedData{SessionID: s.id, Status: status},
		})
	}
}

func (s *Session) setTitle(title string) {
	s.mu.Lock()
	if title == s.title {
		s.mu.Unlock()
		return
	}
	s.title = title
	s.updated = time.Now().UnixMilli()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Type: event.SessionTitleChanged,
			Data: event.SessionTitleChangedData{SessionID: s.id, Title: title},
		})
	}
}

// dispose releases the runtime handle exactly once. Further requests fail
// with ErrDisposed.
func (s *Session) dispose() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()

		if err := s.rt.Close(); err != nil && !errors.Is(err, agent.ErrSessionClosed) {
			s.log.Warn().Err(err).Msg("closing runtime session")
		}
	})
}
