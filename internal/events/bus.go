// Package events provides the typed event channel between the sync layer
// and the UI transport. Publishers never know who is listening; the
// desktop surface subscribes and forwards to whatever transport it runs.
package events

import (
	"sync"
	"time"
)

// EventType identifies a published event.
type EventType string

const (
	SyncStarted      EventType = "sync-started"
	SyncProgress     EventType = "sync-progress"
	SyncComplete     EventType = "sync-complete"
	SyncFailed       EventType = "sync-failed"
	ConflictDetected EventType = "conflict-detected"
	ConflictResolved EventType = "conflict-resolved"
	PresenceUpdate   EventType = "presence-update"
	PresenceJoined   EventType = "presence-joined"
	PresenceLeft     EventType = "presence-left"
)

// Event is a single notification with a structured payload.
type Event struct {
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses the oldest event first.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates a Bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away; the channel is closed by it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		for {
			select {
			case ch <- event:
			default:
				// drop the oldest to make room
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Emit is shorthand for publishing a typed event with data.
func (b *Bus) Emit(typ EventType, data map[string]interface{}) {
	b.Publish(Event{Type: typ, Data: data})
}

// Close tears the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
