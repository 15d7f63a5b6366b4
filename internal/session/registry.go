package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/internal/policy"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// DefaultIdleTimeout is how long a terminal, unreferenced session lives
// before it is reclaimed. The host UI has no reliable "view closed"
// signal, so idle sessions are reclaimed heuristically.
const DefaultIdleTimeout = 90 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// IdleTimeout overrides DefaultIdleTimeout when positive.
	IdleTimeout time.Duration
	// WorkspaceFolders supplies the open workspace roots for permission
	// scoping. May be nil.
	WorkspaceFolders func() []string
	// UserInput answers free-form questions the runtime asks. May be nil;
	// questions then fail.
	UserInput agent.UserInputHandler
	// DefaultModel is used when session options carry no model.
	DefaultModel string
}

// Registry creates, reuses, and evicts Sessions by id. It is the only
// shared mutable state across concurrent requests; access is serialized
// per id around creation and resumption.
type Registry struct {
	runtime agent.Runtime
	broker  *policy.Broker
	bus     *event.Bus
	cfg     RegistryConfig
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*sync.Mutex
}

// entry owns one live session. Model preference, branch, and isolation
// selection live here, scoped to the session's lifetime, instead of in
// process-wide maps.
type entry struct {
	sess  *Session
	opts  agent.Options
	refs  int
	timer *time.Timer
}

// NewRegistry creates a session registry.
func NewRegistry(runtime agent.Runtime, broker *policy.Broker, bus *event.Bus, cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		runtime: runtime,
		broker:  broker,
		bus:     bus,
		cfg:     cfg,
		log:     logging.Component("registry"),
		entries: make(map[string]*entry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// idLock returns the per-id creation mutex, so exactly one external
// creation or resume happens per id; losers of the race receive the
// winner's session.
func (r *Registry) idLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create creates a brand-new session with a runtime-assigned id.
func (r *Registry) Create(ctx context.Context, opts agent.Options) (*Session, error) {
	if opts.Model == "" {
		opts.Model = r.cfg.DefaultModel
	}

	rt, err := r.dial(ctx, func() (agent.Session, error) {
		return r.runtime.Create(ctx, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent session: %w", err)
	}

	sess := r.adopt(rt, opts)
	r.publishCreated(sess)
	return sess, nil
}

// GetOrCreate returns the live session for id, incrementing its reference
// count, or resumes the external session and wraps it. Concurrent calls
// for the same id serialize on a per-id mutex held only until the Session
// object is obtained, never across a request.
func (r *Registry) GetOrCreate(ctx context.Context, id string, opts agent.Options) (*Session, error) {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.refs++
		r.disarmLocked(e)
		r.mu.Unlock()
		return e.sess, nil
	}
	r.mu.Unlock()

	if opts.Model == "" {
		opts.Model = r.cfg.DefaultModel
	}

	rt, err := r.dial(ctx, func() (agent.Session, error) {
		return r.runtime.Resume(ctx, id, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("resuming agent session %s: %w", id, err)
	}

	sess := r.adopt(rt, opts)
	r.publishCreated(sess)
	return sess, nil
}

// Get returns the live session for id without touching reference counts.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// List returns snapshots of all live sessions.
func (r *Registry) List() []types.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.sess)
	}
	r.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Release decrements the session's reference count. When it reaches zero
// and the session is idle, the disposal timer is armed.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	r.maybeArmLocked(id, e)
}

// Delete disposes the session immediately regardless of reference count
// and removes it from the registry. Idempotent. The per-id creation lock
// stays behind so later GetOrCreate calls for the same id keep
// serializing on the same mutex.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		r.disarmLocked(e)
		delete(r.entries, id)
	}
	count := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.log.Debug().Str("sessionID", id).Msg("session deleted")
	r.finish(id, e, count)
}

// finish disposes an entry already unlinked under r.mu and announces the
// deletion on the bus.
func (r *Registry) finish(id string, e *entry, count int) {
	e.sess.dispose()
	if r.bus != nil {
		r.bus.Publish(event.Event{
			Type: event.SessionDeleted,
			Data: event.SessionDeletedData{SessionID: id},
		})
		r.publishSessionsChanged(count)
	}
}

// Close disposes every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Delete(id)
	}
}

// dial retries transient external-session failures with exponential
// backoff, bounded by the caller's context.
func (r *Registry) dial(ctx context.Context, connect func() (agent.Session, error)) (agent.Session, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
	), 4), ctx)

	var rt agent.Session
	err := backoff.Retry(func() error {
		var err error
		rt, err = connect()
		return err
	}, bo)
	return rt, err
}

// adopt wraps a runtime session and registers it with refs=1.
func (r *Registry) adopt(rt agent.Session, opts agent.Options) *Session {
	sess := newSession(rt, opts, r.broker, r.bus, r.cfg.WorkspaceFolders, r.cfg.UserInput)
	sess.statusHook = r.onStatusChange

	r.mu.Lock()
	r.entries[sess.ID()] = &entry{sess: sess, opts: opts, refs: 1}
	r.mu.Unlock()

	return sess
}

// onStatusChange keeps the idle timer in sync with status transitions.
// It runs synchronously inside the transition, before any awaiting, so a
// starting request always disarms the timer before the request can block.
func (r *Registry) onStatusChange(id string, status types.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}

	if status == types.StatusInProgress {
		r.disarmLocked(e)
		return
	}
	r.maybeArmLocked(id, e)
}

// maybeArmLocked arms the disposal timer when the session is unreferenced,
// in a terminal status, and has no pending interactive permission.
func (r *Registry) maybeArmLocked(id string, e *entry) {
	if e.refs > 0 || !e.sess.Status().Terminal() {
		return
	}
	if r.broker != nil && r.broker.Pending(id) {
		return
	}
	r.disarmLocked(e)
	e.timer = time.AfterFunc(r.cfg.IdleTimeout, func() {
		r.reap(id)
	})
}

func (r *Registry) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// reap removes an idle session when its timer fires, unless it was
// touched again in the meantime. Re-validation and removal share one
// critical section, so a GetOrCreate racing the timer either finds the
// entry gone or takes a reference the reaper will respect.
func (r *Registry) reap(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.refs > 0 || !e.sess.Status().Terminal() {
		r.mu.Unlock()
		return
	}
	r.disarmLocked(e)
	delete(r.entries, id)
	count := len(r.entries)
	r.mu.Unlock()

	r.log.Debug().Str("sessionID", id).Msg("idle session reclaimed")
	r.finish(id, e, count)
}

func (r *Registry) publishCreated(sess *Session) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: sess.Info()},
	})
	r.mu.Lock()
	count := len(r.entries)
	r.mu.Unlock()
	r.publishSessionsChanged(count)
}

func (r *Registry) publishSessionsChanged(count int) {
	r.bus.Publish(event.Event{
		Type: event.SessionsChanged,
		Data: event.SessionsChangedData{Count: count},
	})
}
