package emit

// Event types emitted during a test run.
//
// The engine emits one event per node transition and one per finished
// virtual user. Consumers (WebSocket bridges, log sinks) subscribe via an
// Emitter; the engine never blocks on delivery.
const (
	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventTurnCompleted = "turn_completed"
	EventUserCompleted = "user_completed"
)

// Event is a progress event produced by the execution engine.
//
// RunID and UserID are always set. NodeID is empty for user-level events.
// Request and Response are populated only for action-node completions, where
// observability of the exact HTTP exchange matters.
type Event struct {
	// Type is one of the Event* constants.
	Type string

	// RunID identifies the test run that produced this event.
	RunID string

	// UserID identifies the virtual user.
	UserID string

	// NodeID identifies the node, when the event is node-scoped.
	NodeID string

	// DurationMS is the wall time of the completed unit, in milliseconds.
	DurationMS float64

	// Request is the outbound payload of an action node, verbatim.
	Request map[string]any

	// Response is the agent response of an action node, verbatim.
	Response map[string]any

	// Error carries the human-readable failure reason for *_failed events.
	Error string

	// Meta contains additional structured data specific to this event,
	// such as turn numbers for dialog events.
	Meta map[string]any
}
