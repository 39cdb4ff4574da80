package events

// Event is a structured notification describing a committed state change.
// Attributes carry the operation's salient arguments as printable strings so
// downstream consumers do not need the engine's Go types.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (gateways, indexers,
// webhook queues). Emitters are invoked only after the corresponding state
// mutation has been stored.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Engines default
// to it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// CaptureEmitter records every emitted event in order. It exists for tests
// and for in-process subscribers that drain events after each call.
type CaptureEmitter struct {
	Events []*Event
}

// Emit implements the Emitter interface.
func (c *CaptureEmitter) Emit(evt *Event) {
	if evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
