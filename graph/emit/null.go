package emit

// NullEmitter discards all events.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit does nothing.
func (n *NullEmitter) Emit(Event) {}
