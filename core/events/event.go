package events

// Event is a structured state change emitted by the engine. Attributes hold
// canonical string encodings so downstream subscribers never need the engine's
// types to decode a payload.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default wherever a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder retains every emitted event in order. Test helper.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.Events = append(r.Events, evt)
}

// ByType returns the recorded events matching the given type.
func (r *Recorder) ByType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
