package policy

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// Ask is an interactive permission prompt handed to the registered handler.
type Ask struct {
	ID        string
	SessionID string
	Request   types.PermissionRequest
}

// Handler resolves an interactive permission prompt. It may block for an
// arbitrarily long time; it must observe ctx and return when cancelled.
type Handler func(ctx context.Context, ask Ask) (granted bool, err error)

// Broker arbitrates permission requests: auto-approval through the pure
// Policy first, then delegation to an externally registered interactive
// handler. With no handler registered the broker fails closed.
type Broker struct {
	policy *Policy
	bus    *event.Bus

	mu      sync.RWMutex
	handler Handler
	pending map[string]pendingAsk
}

type pendingAsk struct {
	sessionID string
	ch        chan bool
}

// NewBroker creates a broker over the given policy. The bus may be nil;
// notification publishing is then skipped.
func NewBroker(policy *Policy, bus *event.Bus) *Broker {
	return &Broker{
		policy:  policy,
		bus:     bus,
		pending: make(map[string]pendingAsk),
	}
}

// SetHandler registers the interactive handler. Passing nil reverts to the
// fail-closed default.
func (b *Broker) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// SetPolicy swaps the pure policy, for configuration hot reload. Requests
// already past their policy decision keep the old rules.
func (b *Broker) SetPolicy(p *Policy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policy = p
}

// Resolve decides one permission request. Auto-approval and configured
// denial never consult the handler; everything else goes interactive and
// fails closed when no handler is registered or the context is cancelled.
func (b *Broker) Resolve(ctx context.Context, sessionID string, req types.PermissionRequest, scope Scope) types.PermissionDecision {
	b.mu.RLock()
	pol := b.policy
	b.mu.RUnlock()

	switch pol.Decide(req, scope) {
	case VerdictApprove:
		return types.Approve(types.OutcomeAutoApproved)
	case VerdictDeny:
		return types.Deny(types.OutcomeDeniedByPolicy)
	}

	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()

	if handler == nil {
		return types.Deny(types.OutcomeDeniedNoHandler)
	}

	ask := Ask{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Request:   req,
	}

	b.publishRequired(ask)

	granted, err := handler(ctx, ask)
	decision := types.Deny(types.OutcomeDeniedInteractively)
	switch {
	case err != nil || ctx.Err() != nil:
		decision = types.Deny(types.OutcomeDeniedCancelled)
	case granted:
		decision = types.Approve(types.OutcomeApprovedInteractively)
	}

	b.publishReplied(ask, decision.Outcome)
	return decision
}

// BusHandler returns a Handler that publishes the prompt on the event bus
// and waits for Respond, so UIs attached over the bus (e.g. the HTTP
// surface) can answer.
func (b *Broker) BusHandler() Handler {
	return func(ctx context.Context, ask Ask) (bool, error) {
		ch := make(chan bool, 1)
		b.mu.Lock()
		b.pending[ask.ID] = pendingAsk{sessionID: ask.SessionID, ch: ch}
		b.mu.Unlock()

		defer func() {
			b.mu.Lock()
			delete(b.pending, ask.ID)
			b.mu.Unlock()
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case granted := <-ch:
			return granted, nil
		}
	}
}

// Respond answers a pending interactive prompt by id. Unknown ids are
// ignored; the prompt may have been cancelled already.
func (b *Broker) Respond(id string, granted bool) {
	b.mu.RLock()
	p, ok := b.pending[id]
	b.mu.RUnlock()

	if !ok {
		log := logging.Component("policy")
		log.Debug().Str("id", id).Msg("response for unknown permission prompt")
		return
	}

	select {
	case p.ch <- granted:
	default:
	}
}

// Pending reports whether an interactive prompt is currently awaiting a
// response for the given session.
func (b *Broker) Pending(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.pending {
		if p.sessionID == sessionID {
			return true
		}
	}
	return false
}

func (b *Broker) publishRequired(ask Ask) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:        ask.ID,
			SessionID: ask.SessionID,
			Kind:      ask.Request.Kind(),
			Target:    requestTarget(ask.Request),
		},
	})
}

func (b *Broker) publishReplied(ask Ask, outcome types.PermissionOutcome) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(event.Event{
		Type: event.PermissionReplied,
		Data: event.PermissionRepliedData{
			ID:        ask.ID,
			SessionID: ask.SessionID,
			Outcome:   outcome,
		},
	})
}

func requestTarget(req types.PermissionRequest) string {
	switch r := req.(type) {
	case types.ReadRequest:
		return r.Path
	case types.WriteRequest:
		return r.FileName
	case types.ShellRequest:
		return r.Command
	}
	return ""
}
