// Package events provides a publish/subscribe bus for operational
// events: reconcile cycles, item commands and lifecycle changes. The
// websocket handler is the main subscriber. A nil *Bus is valid and
// drops everything, so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceReconcile = "reconcile"
	SourceDispatch  = "dispatch"
	SourceHost      = "host"
)

// Kinds.
const (
	// KindCycleStart: cycle_id.
	KindCycleStart = "cycle_start"
	// KindCycleComplete: cycle_id, items, switches, shutters,
	// functions, elapsed_ms.
	KindCycleComplete = "cycle_complete"
	// KindCycleFailed: cycle_id, error, published.
	KindCycleFailed = "cycle_failed"

	// KindCommandSent: item, command.
	KindCommandSent = "command_sent"
	// KindCommandFailed: item, command, error.
	KindCommandFailed = "command_failed"

	// KindLifecycle: event, enabled.
	KindLifecycle = "lifecycle"
)

// Event is a single published event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events without blocking: a subscriber whose buffer is
// full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish stamps e if needed and delivers it to every subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel with the given buffer that receives
// published events. Release it with [Bus.Unsubscribe].
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	if b == nil {
		return ch
	}
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
