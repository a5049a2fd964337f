package events

import "fhecoproc/core/types"

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// PayloadProvider is implemented by events that can render a canonical
// attribute payload for durable sinks (journal, RPC).
type PayloadProvider interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the audit
// journal, metrics, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans one event out to several sinks in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
