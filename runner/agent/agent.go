// Package agent wraps the HTTP surface of the conversational agent under
// test. Every call resolves to an outcome value; transport failures are data,
// not errors, so a flaky agent can never crash a running test.
package agent

import "context"

// Request describes one call to the agent under test.
type Request struct {
	// Method is the HTTP method, defaulting to POST when empty.
	Method string

	// Endpoint is the path appended to the caller's base URL.
	Endpoint string

	// Payload is sent as the JSON request body.
	Payload map[string]any

	// Headers are added to the request verbatim.
	Headers map[string]string
}

// Result is the outcome of one agent call.
type Result struct {
	// Success is true for a 2xx response with a parseable JSON body.
	Success bool

	// Response is the decoded JSON body, nil on failure.
	Response map[string]any

	// Error describes the failure, empty on success.
	Error string

	// DurationMS is the wall-clock duration of the call.
	DurationMS float64
}

// Caller issues calls against the agent under test.
//
// Implementations must never return a Go error or panic for transport-level
// failures: timeouts, connection errors and non-2xx statuses are all reported
// through Result. They must be safe for concurrent use, since every virtual
// user calls the same Caller.
type Caller interface {
	Call(ctx context.Context, req Request) Result
}
