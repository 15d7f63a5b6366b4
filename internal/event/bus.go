// Package event provides a pub/sub notification bus for the broker using
// watermill. The bus is instance-owned (typically by the session registry)
// rather than process-global, so subscriber lifetimes are bounded by the
// owner's lifetime.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type represents the type of a broker notification.
type Type string

const (
	SessionCreated       Type = "session.created"
	SessionUpdated       Type = "session.updated"
	SessionDeleted       Type = "session.deleted"
	SessionStatusChanged Type = "session.status_changed"
	SessionTitleChanged  Type = "session.title_changed"
	SessionsChanged      Type = "sessions.changed"
	PermissionRequired   Type = "permission.required"
	PermissionReplied    Type = "permission.replied"
	FileEdited           Type = "file.edited"
	UsageReported        Type = "usage.reported"
)

// Event represents a notification to be published.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID and its delivery queue.
type subscriberEntry struct {
	id  uint64
	fn  Subscriber
	box *mailbox
}

// mailbox is an unbounded per-subscriber event queue drained by a single
// goroutine, so each subscriber observes events in publish order and a
// slow subscriber never blocks publishers or reorders its own delivery.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newMailbox(fn Subscriber) *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	go m.drain(fn)
	return m
}

func (m *mailbox) put(event Event) {
	m.mu.Lock()
	if !m.closed {
		m.queue = append(m.queue, event)
		m.cond.Signal()
	}
	m.mu.Unlock()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *mailbox) drain(fn Subscriber) {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		event := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn(event)
	}
}

// Bus is the notification bus backed by a watermill gochannel. Direct
// subscriber dispatch preserves payload type information; the watermill
// pub/sub underneath is the seam for middleware or distributed backends.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// NewBus creates a new notification bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[Type][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn, box: newMailbox(fn)})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn, box: newMailbox(fn)})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			entry.box.close()
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			entry.box.close()
			break
		}
	}
}

// collect snapshots the subscribers for an event type under the read lock.
func (b *Bus) collect(eventType Type) []subscriberEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]subscriberEntry, 0, len(b.subscribers[eventType])+len(b.global))
	subs = append(subs, b.subscribers[eventType]...)
	subs = append(subs, b.global...)
	return subs
}

// Publish sends an event to all subscribers without blocking. Each
// subscriber drains its own queue, so a subscriber sees events from the
// same publisher in publish order.
func (b *Bus) Publish(event Event) {
	for _, entry := range b.collect(event.Type) {
		entry.box.put(event)
	}
}

// PublishSync sends an event to all subscribers synchronously, in the
// current goroutine. It bypasses the per-subscriber queues, so mixing it
// with Publish on the same bus gives no ordering between the two.
func (b *Bus) PublishSync(event Event) {
	for _, entry := range b.collect(event.Type) {
		entry.fn(event)
	}
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()

	for _, subs := range b.subscribers {
		for _, entry := range subs {
			entry.box.close()
		}
	}
	for _, entry := range b.global {
		entry.box.close()
	}
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases
// such as middleware or distributed backends.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
