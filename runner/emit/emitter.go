package emit

// Emitter receives progress events from a running test.
//
// Implementations should be:
//   - Non-blocking: slow sinks must buffer or drop, never stall the engine
//   - Thread-safe: events arrive concurrently from many virtual users
//   - Resilient: a sink failure is logged or swallowed, never surfaced as a
//     node or user failure
//
// Emit must not panic; the engine treats delivery as best-effort.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans events out to several sinks in order.
type MultiEmitter []Emitter

// Emit delivers the event to every sink.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
