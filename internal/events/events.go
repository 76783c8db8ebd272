// Package events implements lifecycle event publication for Model and
// ModelInstance state transitions (load, init, warm-up, ready, close).
package events

// Event is one lifecycle transition. Fields is free-form so a
// particular transition (e.g. a warmup failure) can attach extra
// context (an error string, an instance name) without widening Event
// itself for every new use.
type Event struct {
	Name    string
	Model   string
	Fields  map[string]any
}

// Publisher receives lifecycle events. Implementations must not block
// and must not panic — Model/ModelInstance call Publish inline on their
// own goroutine, never through a buffered worker.
type Publisher interface {
	Publish(Event)
}

// Noop drops every event; it is the default when no Publisher is wired.
type Noop struct{}

func (Noop) Publish(Event) {}
