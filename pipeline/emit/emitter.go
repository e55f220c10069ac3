// Package emit provides pluggable observability for pipeline execution.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be non-blocking, safe for concurrent use, and must
// never panic; a failing backend must not take the workflow down with it.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans events out to several emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that forwards every event to each of
// the given emitters in order. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &MultiEmitter{emitters: kept}
}

// Emit implements Emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
