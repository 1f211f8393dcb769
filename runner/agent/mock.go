package agent

import (
	"context"
	"sync"
)

// MockCaller is a test implementation of Caller.
//
// It returns configured results in order, repeats the last result once the
// list is exhausted, and records every request. Safe for concurrent use so
// it can back many virtual users at once.
type MockCaller struct {
	// Results is the sequence of results to return. Empty returns a
	// generic success with an empty response map.
	Results []Result

	// ByEndpoint overrides Results for specific endpoints.
	ByEndpoint map[string]Result

	mu        sync.Mutex
	calls     []Request
	callIndex int
}

// Call implements the Caller interface.
func (m *MockCaller) Call(ctx context.Context, req Request) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if r, ok := m.ByEndpoint[req.Endpoint]; ok {
		return r
	}
	if len(m.Results) == 0 {
		return Result{Success: true, Response: map[string]any{}}
	}

	idx := m.callIndex
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	} else {
		m.callIndex++
	}
	return m.Results[idx]
}

// Calls returns a copy of the recorded requests.
func (m *MockCaller) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded requests.
func (m *MockCaller) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
