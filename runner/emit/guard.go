package emit

// Guard wraps an emitter so a panicking sink cannot take down the engine.
// A nil emitter becomes a NullEmitter. The engine wraps every injected
// emitter with Guard; sinks still should not panic, but if one does the
// event is dropped and execution continues.
func Guard(e Emitter) Emitter {
	if e == nil {
		return NewNullEmitter()
	}
	return guardedEmitter{inner: e}
}

type guardedEmitter struct {
	inner Emitter
}

func (g guardedEmitter) Emit(event Event) {
	defer func() {
		_ = recover()
	}()
	g.inner.Emit(event)
}
