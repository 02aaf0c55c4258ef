// Package event carries change notifications from the trackers to whatever
// presents them (WebSocket feed, journal, telemetry, logs).
//
// Events are published on the dispatch drain loop. Observers run
// synchronously on that loop and must not block; anything slow belongs
// behind the observer's own buffer.
package event

import (
	"sync"
	"time"

	"github.com/nerrad567/momcore/internal/protocol"
)

// Type identifies what changed.
type Type string

// Event types. The string values double as WebSocket channel names.
const (
	EntityAdded         Type = "directory.added"
	EntityRemoved       Type = "directory.removed"
	PresenceChanged     Type = "presence.changed"
	PollCompleted       Type = "presence.poll_completed"
	PendingChanged      Type = "delivery.pending_changed"
	SubscriptionChanged Type = "topic.subscription_changed"
	PrivateReceived     Type = "message.private"
	TopicReceived       Type = "message.topic"
	AuthAnswered        Type = "auth.answered"
)

var types = []Type{
	EntityAdded, EntityRemoved,
	PresenceChanged, PollCompleted,
	PendingChanged, SubscriptionChanged,
	PrivateReceived, TopicReceived,
	AuthAnswered,
}

// Types returns every event type in declaration order.
func Types() []Type {
	return append([]Type(nil), types...)
}

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	for _, k := range types {
		if k == t {
			return true
		}
	}
	return false
}

// Event is a single change notification. Only the fields relevant to Type
// are populated. Pending is the counter value for PendingChanged; Expired
// counts the users a PollCompleted window marked OFFLINE.
type Event struct {
	Type       Type            `json:"type"`
	Kind       protocol.Kind   `json:"kind,omitempty"`
	Name       string          `json:"name,omitempty"`
	Presence   protocol.Status `json:"presence,omitempty"`
	Pending    int             `json:"pending,omitempty"`
	Expired    int             `json:"expired,omitempty"`
	Subscribed bool            `json:"subscribed,omitempty"`
	Valid      bool            `json:"valid,omitempty"`
	From       string          `json:"from,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Text       string          `json:"text,omitempty"`
	At         time.Time       `json:"at"`
}

// Observer receives events.
type Observer func(Event)

// Emitter is the function trackers are given to raise events.
type Emitter func(Event)

// Bus fans events out to registered observers in registration order.
//
// Thread Safety: Subscribe and Publish are safe for concurrent use, although
// in practice only the drain loop publishes.
type Bus struct {
	mu        sync.RWMutex
	observers map[int]Observer
	order     []int
	next      int
	now       func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		observers: make(map[int]Observer),
		now:       time.Now,
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.observers[id] = o
	b.order = append(b.order, id)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish stamps the event (if unstamped) and delivers it to every observer.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now().UTC()
	}

	b.mu.RLock()
	observers := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		observers = append(observers, b.observers[id])
	}
	b.mu.RUnlock()

	for _, o := range observers {
		o(e)
	}
}

// Emit adapts the bus to the Emitter signature.
func (b *Bus) Emit() Emitter {
	return b.Publish
}

// Discard is an Emitter that drops every event.
func Discard(Event) {}
