// Package events provides a publish/subscribe event bus for operational
// observability inside the runtime. This is distinct from the protocol
// Event model (see package event): these are diagnostic records about
// the runtime's own behavior — connects, dispatches, API calls, plugin
// loads — consumed by things like a metrics bridge or an admin log
// tail, never by user handlers. The bus is nil-safe: calling Publish on
// a nil *Bus is a no-op, so components do not need guard checks when no
// one is subscribed.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceTransport identifies events from a transport (C2-C4).
	SourceTransport = "transport"
	// SourceBridge identifies events from the adapter bridge (C6).
	SourceBridge = "bridge"
	// SourceDispatcher identifies events from the matcher pipeline (C10).
	SourceDispatcher = "dispatcher"
	// SourcePlugin identifies events from the plugin manager (C11).
	SourcePlugin = "plugin"
)

// Kind constants describe the type of event within a source.
const (
	// KindBotConnected signals a bot was created or reconnected.
	// Data: bot_id, kind.
	KindBotConnected = "bot_connected"
	// KindBotDisconnected signals a bot's connection handle was torn down.
	// Data: bot_id, reason.
	KindBotDisconnected = "bot_disconnected"
	// KindEventDispatched signals an inbound event reached the dispatcher.
	// Data: bot_id, event.
	KindEventDispatched = "event_dispatched"
	// KindAPICallStart signals an outbound API call was issued.
	// Data: bot_id, action, echo.
	KindAPICallStart = "api_call_start"
	// KindAPICallDone signals an outbound API call completed.
	// Data: bot_id, action, echo, outcome, elapsed_ms.
	KindAPICallDone = "api_call_done"
	// KindPluginLoaded signals a plugin finished loading successfully.
	// Data: plugin.
	KindPluginLoaded = "plugin_loaded"
	// KindPluginFailed signals a plugin failed to load.
	// Data: plugin, reason.
	KindPluginFailed = "plugin_failed"
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
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
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
