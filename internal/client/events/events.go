// Package events fans publisher lifecycle events out to local observers
// such as the status screen.
package events

import (
	"sync"
	"time"
)

type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventReconnecting
	EventPublished
	EventNotRegistered
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventPublished:
		return "published"
	case EventNotRegistered:
		return "not_registered"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// ConnectedData accompanies EventConnected.
type ConnectedData struct {
	HubAddr   string
	PublicKey string
}

// DisconnectedData accompanies EventDisconnected.
type DisconnectedData struct {
	Reason string
}

// PublishedData accompanies EventPublished. Err is set when the envelope
// was dropped.
type PublishedData struct {
	Kind string
	Err  error
}

type ErrorData struct {
	Error   error
	Context string
}

const defaultBuffer = 100

// Bus delivers events to every subscriber without blocking the publisher.
// Events for a subscriber whose buffer is full are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
	closed bool
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultBuffer)
}

func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Bus{subs: make(map[chan Event]struct{}), buffer: size}
}

// Subscribe returns a new event channel. After Close it returns a closed one.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
		}
	}
}

func (b *Bus) PublishType(t EventType) {
	b.Publish(Event{Type: t})
}

func (b *Bus) PublishError(err error, context string) {
	b.Publish(Event{Type: EventError, Data: ErrorData{Error: err, Context: context}})
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
