package events

// Event represents a structured state change emitted by a protocol module.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (metrics, indexers,
// keeper tooling).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose callers do not care about event payloads.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// CollectingEmitter buffers emitted events in order. Primarily used by tests
// and by the daemon's event fan-out.
type CollectingEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *CollectingEmitter) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
