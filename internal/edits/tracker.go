// Package edits tracks in-flight file edits and correlates permission
// requests back to the tool calls that triggered them.
package edits

import (
	"context"
	"sync"

	"github.com/agentbridge/agentbridge/internal/logging"
)

// Notifier is told when a tracked edit has finished.
type Notifier func(correlationKey string, files []string)

// waiter is one parked Track call. released is written before done is
// closed and read only after receiving from done.
type waiter struct {
	done     chan struct{}
	released bool
}

// Tracker correlates a permission approval with the later completion signal
// for the same edit. Track blocks until Complete arrives for the key; the
// two calls may occur in either order.
type Tracker struct {
	mu        sync.Mutex
	waiters   map[string]*waiter
	completed map[string]bool
	notify    Notifier
}

// NewTracker creates a tracker. notify may be nil.
func NewTracker(notify Notifier) *Tracker {
	return &Tracker{
		waiters:   make(map[string]*waiter),
		completed: make(map[string]bool),
		notify:    notify,
	}
}

// Track blocks until the completion signal for key arrives, the context is
// cancelled, or the tracker is reset. A completion that raced ahead of the
// call resolves immediately.
func (t *Tracker) Track(ctx context.Context, key string, files []string) error {
	t.mu.Lock()
	if t.completed[key] {
		delete(t.completed, key)
		t.mu.Unlock()
		t.notifyDone(key, files)
		return nil
	}

	w, ok := t.waiters[key]
	if !ok {
		w = &waiter{done: make(chan struct{})}
		t.waiters[key] = w
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, key)
		t.mu.Unlock()
		return ctx.Err()
	case <-w.done:
		if !w.released {
			t.notifyDone(key, files)
		}
		return nil
	}
}

// Complete resolves a pending Track waiter for key. When no waiter exists
// yet the completion is remembered so a later Track resolves immediately.
// Completions that never find a tracker are discarded at Reset.
func (t *Tracker) Complete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.waiters[key]; ok {
		close(w.done)
		delete(t.waiters, key)
		return
	}

	t.completed[key] = true
}

// Reset discards remembered completions and releases any stuck waiters
// without notifying. Called at the end of each request so state never
// leaks across requests.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := logging.Component("edits")
	for key, w := range t.waiters {
		log.Debug().Str("key", key).Msg("releasing unmatched edit waiter")
		w.released = true
		close(w.done)
	}
	t.waiters = make(map[string]*waiter)
	t.completed = make(map[string]bool)
}

func (t *Tracker) notifyDone(key string, files []string) {
	if t.notify != nil {
		t.notify(key, files)
	}
}
