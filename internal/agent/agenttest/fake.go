// Package agenttest provides a scripted in-memory agent runtime for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// Action is one scripted step within a turn. Exactly one field should be
// set; zero-value actions are skipped.
type Action struct {
	// Emit delivers an event to subscribers.
	Emit agent.Event
	// RequestPermission invokes the registered permission handler in its
	// own goroutine and records the decision when it returns. Handlers
	// may block on later events in the same turn (e.g. an edit-tracking
	// grant waiting on the tool completion); running them inline would
	// wedge the turn.
	RequestPermission types.PermissionRequest
	// WaitPermissions blocks the turn until every outstanding permission
	// handler call has returned.
	WaitPermissions bool
	// AskUser invokes the registered user-input handler.
	AskUser string
	// Delay pauses the turn, giving tests a window to cancel or abort.
	Delay time.Duration
}

// Turn scripts the runtime's reaction to one Send call.
type Turn struct {
	Actions []Action
	// SendErr, when set, makes Send return this error immediately and
	// skips the actions.
	SendErr error
	// NoIdle suppresses the trailing IdleEvent, for tests that drive
	// completion manually.
	NoIdle bool
}

// Runtime is a scripted agent.Runtime. Create and Resume hand out
// FakeSessions that replay the configured turns in order.
type Runtime struct {
	mu sync.Mutex

	// Script is shared by every session the runtime creates.
	Script []Turn

	// CreateErr makes Create/Resume fail, for retry tests. It is
	// consumed: after FailCreates failures, creation succeeds.
	CreateErr   error
	FailCreates int

	created []*FakeSession
}

// NewRuntime returns a runtime that replays the given turns.
func NewRuntime(script ...Turn) *Runtime {
	return &Runtime{Script: script}
}

// Create implements agent.Runtime.
func (r *Runtime) Create(ctx context.Context, opts agent.Options) (agent.Session, error) {
	return r.newSession(ulid.Make().String(), opts)
}

// Resume implements agent.Runtime.
func (r *Runtime) Resume(ctx context.Context, id string, opts agent.Options) (agent.Session, error) {
	return r.newSession(id, opts)
}

func (r *Runtime) newSession(id string, opts agent.Options) (*FakeSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateErr != nil && r.FailCreates > 0 {
		r.FailCreates--
		return nil, r.CreateErr
	}

	s := &FakeSession{
		id:     id,
		model:  opts.Model,
		script: r.Script,
	}
	r.created = append(r.created, s)
	return s, nil
}

// Sessions returns every session the runtime has handed out.
func (r *Runtime) Sessions() []*FakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeSession(nil), r.created...)
}

// FakeSession is a scripted agent.Session.
type FakeSession struct {
	mu sync.Mutex

	id     string
	model  string
	script []Turn
	turn   int

	events      []agent.Event
	subscribers map[uint64]func(agent.Event)
	nextSubID   uint64

	permHandler  agent.PermissionHandler
	inputHandler agent.UserInputHandler

	closed  bool
	aborted chan struct{}

	// Decisions records every permission decision the handler returned.
	Decisions []types.PermissionDecision
	// Answers records every user-input answer.
	Answers []string
	// ModelSwitches records each SetModel call.
	ModelSwitches []string
}

// ID implements agent.Session.
func (s *FakeSession) ID() string { return s.id }

// Model implements agent.Session.
func (s *FakeSession) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel implements agent.Session.
func (s *FakeSession) SetModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return agent.ErrSessionClosed
	}
	s.model = modelID
	s.ModelSwitches = append(s.ModelSwitches, modelID)
	return nil
}

// SetPermissionHandler implements agent.Session.
func (s *FakeSession) SetPermissionHandler(fn agent.PermissionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permHandler = fn
}

// SetUserInputHandler implements agent.Session.
func (s *FakeSession) SetUserInputHandler(fn agent.UserInputHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputHandler = fn
}

// Subscribe implements agent.Session. Dispatch is synchronous in the
// emitting goroutine, preserving emission order.
func (s *FakeSession) Subscribe(fn func(agent.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers == nil {
		s.subscribers = make(map[uint64]func(agent.Event))
	}
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Events implements agent.Session.
func (s *FakeSession) Events() []agent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Event(nil), s.events...)
}

// Abort implements agent.Session.
func (s *FakeSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted != nil {
		select {
		case <-s.aborted:
		default:
			close(s.aborted)
		}
	}
}

// Close implements agent.Session.
func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return agent.ErrSessionClosed
	}
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send implements agent.Session. It replays the next scripted turn
// synchronously: events reach subscribers before Send returns, matching
// runtimes whose event delivery races ahead of the send acknowledgment.
func (s *FakeSession) Send(ctx context.Context, prompt agent.Prompt) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return agent.ErrSessionClosed
	}
	if s.turn >= len(s.script) {
		s.mu.Unlock()
		return fmt.Errorf("agenttest: no scripted turn %d", s.turn)
	}
	turn := s.script[s.turn]
	s.turn++
	s.aborted = make(chan struct{})
	aborted := s.aborted
	s.mu.Unlock()

	if turn.SendErr != nil {
		return turn.SendErr
	}

	s.emit(agent.UserEvent{Text: prompt.Text})

	var permWG sync.WaitGroup
	defer permWG.Wait()

	for _, action := range turn.Actions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-aborted:
			s.emit(agent.IdleEvent{})
			return nil
		default:
		}

		switch {
		case action.Delay > 0:
			select {
			case <-time.After(action.Delay):
			case <-ctx.Done():
				return ctx.Err()
			case <-aborted:
				s.emit(agent.IdleEvent{})
				return nil
			}
		case action.Emit != nil:
			s.emit(action.Emit)
		case action.RequestPermission != nil:
			req := action.RequestPermission
			permWG.Add(1)
			go func() {
				defer permWG.Done()
				s.requestPermission(ctx, req)
			}()
		case action.WaitPermissions:
			permWG.Wait()
		case action.AskUser != "":
			s.askUser(ctx, action.AskUser)
		}
	}

	if !turn.NoIdle {
		s.emit(agent.IdleEvent{})
	}
	return nil
}

func (s *FakeSession) emit(ev agent.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	subs := make([]func(agent.Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (s *FakeSession) requestPermission(ctx context.Context, req types.PermissionRequest) {
	s.mu.Lock()
	handler := s.permHandler
	s.mu.Unlock()

	decision := types.Deny(types.OutcomeDeniedNoHandler)
	if handler != nil {
		decision = handler(ctx, req)
	}

	s.mu.Lock()
	s.Decisions = append(s.Decisions, decision)
	s.mu.Unlock()
}

func (s *FakeSession) askUser(ctx context.Context, question string) {
	s.mu.Lock()
	handler := s.inputHandler
	s.mu.Unlock()

	if handler == nil {
		return
	}
	answer, err := handler(ctx, question)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.Answers = append(s.Answers, answer)
	s.mu.Unlock()
}
