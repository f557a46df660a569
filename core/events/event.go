package events

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
}

// Record is the serialized form of an event: a type tag plus flat string
// attributes, the shape RPC and indexing subscribers consume.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events during a state transition so they can be published
// only once the transition commits. A rolled-back operation drops its buffered
// events instead of exposing them to subscribers.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface by queueing the event.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards all buffered events to the supplied emitter and clears the
// buffer. A nil emitter simply discards the buffered events.
func (b *Buffer) Flush(to Emitter) {
	if b == nil {
		return
	}
	if to != nil {
		for _, evt := range b.pending {
			to.Emit(evt)
		}
	}
	b.pending = nil
}

// Reset drops any buffered events without publishing them.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.pending = nil
}

// Pending returns the events buffered so far, primarily for tests.
func (b *Buffer) Pending() []Event {
	if b == nil {
		return nil
	}
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}
