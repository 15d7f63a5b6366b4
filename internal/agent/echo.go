package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// EchoRuntime is a trivial in-process Runtime that answers every prompt by
// echoing it back. The standalone server uses it when no real runtime is
// wired, so the HTTP surface and broker can be exercised end to end.
type EchoRuntime struct{}

// Create implements Runtime.
func (EchoRuntime) Create(ctx context.Context, opts Options) (Session, error) {
	return newEchoSession(ulid.Make().String(), opts), nil
}

// Resume implements Runtime.
func (EchoRuntime) Resume(ctx context.Context, id string, opts Options) (Session, error) {
	return newEchoSession(id, opts), nil
}

type echoSession struct {
	mu sync.Mutex

	id     string
	model  string
	events []Event
	subs   map[uint64]func(Event)
	nextID uint64
	closed bool
}

func newEchoSession(id string, opts Options) *echoSession {
	model := opts.Model
	if model == "" {
		model = "echo"
	}
	return &echoSession{
		id:    id,
		model: model,
		subs:  make(map[uint64]func(Event)),
	}
}

func (s *echoSession) ID() string { return s.id }

func (s *echoSession) Send(ctx context.Context, prompt Prompt) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	s.emit(UserEvent{Text: prompt.Text})
	s.emit(MessageEvent{
		MessageID: ulid.Make().String(),
		Text:      fmt.Sprintf("echo: %s", prompt.Text),
	})
	s.emit(IdleEvent{})
	return nil
}

func (s *echoSession) emit(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (s *echoSession) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *echoSession) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *echoSession) Abort() {}

func (s *echoSession) SetModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.model = modelID
	return nil
}

func (s *echoSession) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *echoSession) SetPermissionHandler(fn PermissionHandler) {}

func (s *echoSession) SetUserInputHandler(fn UserInputHandler) {}

func (s *echoSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	return nil
}
