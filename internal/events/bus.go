// Package events provides a publish/subscribe bus for turn-level
// observability. The agent loop publishes one event per phase of a turn;
// the CLI subscribes to log them. The bus is nil-safe: calling Publish
// on a nil *Bus is a no-op, so publishers need no guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the contemplation loop.
	SourceAgent = "agent"
	// SourceBackend identifies events from the backend health watcher.
	SourceBackend = "backend"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a turn.
	// Data: turn_id, topic, input_len.
	KindTurnStart = "turn_start"
	// KindBackendCall signals the start of a generation call.
	// Data: turn_id, model, prompt_len.
	KindBackendCall = "backend_call"
	// KindBackendError signals a failed generation call.
	// Data: turn_id, kind, error.
	KindBackendError = "backend_error"
	// KindTopicChange signals that the contemplation topic changed.
	// Data: turn_id, topic, initial.
	KindTopicChange = "topic_change"
	// KindTurnComplete signals the end of a turn.
	// Data: turn_id, thoughts, sayings, questions, memory_len,
	// dominant_emotion, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindBackendReady signals the backend became reachable.
	// Data: name.
	KindBackendReady = "backend_ready"
	// KindBackendDown signals the backend stopped answering.
	// Data: name, error.
	KindBackendDown = "backend_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to subscribers
	// back to the channel stored in subs, so Unsubscribe can take the
	// caller's <-chan Event.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, stamping it with the
// current time if Timestamp is zero. Non-blocking: a full subscriber
// misses the event. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Unknown or
// already-removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
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
