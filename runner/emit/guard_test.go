package emit

import "testing"

type panickyEmitter struct{}

func (panickyEmitter) Emit(Event) { panic("sink exploded") }

func TestGuardSwallowsPanics(t *testing.T) {
	guarded := Guard(panickyEmitter{})

	// Must not propagate the panic.
	guarded.Emit(Event{Type: EventNodeStarted, RunID: "run-001", UserID: "u"})
}

func TestGuardNilBecomesNull(t *testing.T) {
	guarded := Guard(nil)
	if guarded == nil {
		t.Fatal("Guard(nil) returned nil")
	}
	guarded.Emit(Event{Type: EventNodeStarted})
}
