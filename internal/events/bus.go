// Package events defines the closed set of events exchanged between sync-core
// components and the in-process bus that carries them.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives a published event.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a process-wide publish/subscribe hub. The zero value is not usable;
// create one with NewBus.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Kind][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscription identifies one installed handler.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
}

// Cancel removes the handler. Calling it more than once is harmless.
func (s Subscription) Cancel() {
	if s.bus != nil {
		s.bus.Unsubscribe(s)
	}
}

// Subscribe installs fn for events of the given kind. Several handlers may
// share a kind; they run in subscription order.
func (b *Bus) Subscribe(kind Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	return Subscription{bus: b, kind: kind, id: id}
}

// Unsubscribe removes the handler identified by s.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.kind]
	for i, sub := range list {
		if sub.id == s.id {
			// Copy rather than splice in place: a Publish in progress holds
			// the old slice.
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, s.kind)
			} else {
				b.subs[s.kind] = next
			}
			return
		}
	}
}

// Publish delivers p synchronously to every handler subscribed to its kind
// at the time of the call. Handlers added or removed during dispatch do not
// affect this delivery. A panicking handler is logged and skipped.
func (b *Bus) Publish(p Payload) {
	ev := Event{Kind: p.Kind(), Payload: p}

	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs[ev.Kind]))
	copy(snapshot, b.subs[ev.Kind])
	b.mu.Unlock()

	for _, sub := range snapshot {
		dispatch(sub, ev)
	}
}

// HandlerCount returns the number of handlers installed for kind.
func (b *Bus) HandlerCount(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

func dispatch(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: handler panicked", "kind", ev.Kind, "handler", sub.id, "err", fmt.Sprint(r))
		}
	}()
	sub.fn(ev)
}
