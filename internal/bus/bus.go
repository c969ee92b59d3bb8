// Package bus provides the in-process event dispatcher for the messaging
// core. Inbound socket events and the cross-component signals consumed by
// navigation badges travel over the same bus, so sibling components react to
// each other without holding references.
package bus

import "sync"

// Event is a typed event name
type Event string

// Socket events demultiplexed from the realtime connection
const (
	EventNewMessage   Event = "new_message"
	EventNotification Event = "notification"
	EventTyping       Event = "typing"
	EventMessageRead  Event = "message_read"
)

// Cross-component signals. These are deliberately separate names from the
// socket events above: a signal is published by a store after it processed
// something, a socket event is raw inbound traffic.
const (
	SignalNotificationRead Event = "signal:notification-read"
	SignalMessageRead      Event = "signal:message-read"
	SignalNotification     Event = "signal:notification"
	SignalNewMessage       Event = "signal:new_message"
)

// Connection meta events
const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventReconnecting Event = "reconnecting"
)

// Handler receives the event payload. The payload type is fixed per event
// name and documented at the publishing site.
type Handler func(payload interface{})

type subscription struct {
	id      int
	handler Handler
}

// Bus is a publish/subscribe dispatcher. Handlers for one event fire in
// subscription order; a handler registered after an event was published
// never sees that event.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Event][]subscription
}

// New creates an empty Bus
func New() *Bus {
	return &Bus{subs: make(map[Event][]subscription)}
}

// On registers a handler for an event and returns a subscription id for Off
func (b *Bus) On(event Event, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[event] = append(b.subs[event], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Off removes a handler registered with On
func (b *Bus) Off(event Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every handler of event, in subscription order,
// synchronously on the caller's goroutine. Handlers must not block.
func (b *Bus) Publish(event Event, payload interface{}) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[event]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// SubscriberCount reports how many handlers are registered for an event
func (b *Bus) SubscriberCount(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}
