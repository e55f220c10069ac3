package emit

// NullEmitter discards all events. Useful for tests and benchmarks where
// observability output is noise.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter by doing nothing.
func (n *NullEmitter) Emit(Event) {}
