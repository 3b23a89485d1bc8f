package events

import (
	"sync"

	"reserveledger/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Renderable events can be flattened into the generic audit payload.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards each event to every non-nil emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert the
// audit trail of an operation.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.Events = append(r.Events, evt)
	r.mu.Unlock()
}

// Types returns the event type of every recorded event.
func (r *Recorder) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.EventType())
	}
	return out
}

// Sequenced pairs a committed event with its audit log position.
type Sequenced struct {
	Seq uint64
	Renderable
}

// Event renders the wrapped event with its sequence attached.
func (s Sequenced) Event() *types.Event {
	if s.Renderable == nil {
		return nil
	}
	rendered := s.Renderable.Event()
	if rendered == nil {
		rendered = &types.Event{Type: s.EventType(), Attributes: map[string]string{}}
	}
	seq := s.Seq
	rendered.Seq = &seq
	return rendered
}

// Render converts any event into the generic payload. Events that do not
// implement Renderable produce a payload carrying only their type.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderable); ok {
		if rendered := r.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
