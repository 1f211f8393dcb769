package runner

import (
	"fmt"
	"sync"
)

// Run statuses.
const (
	RunIdle      = "idle"
	RunRunning   = "running"
	RunPaused    = "paused"
	RunDone      = "done"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// runTransitions is the adjacency table of allowed state moves. Terminal
// states (done, failed, cancelled) absorb: they have no outgoing edges.
var runTransitions = map[string][]string{
	RunIdle:    {RunRunning, RunFailed},
	RunRunning: {RunPaused, RunDone, RunFailed, RunCancelled},
	RunPaused:  {RunRunning, RunCancelled},
}

// RunState is a guarded state machine for one test run. An illegal
// transition is rejected with ErrInvalidTransition and leaves the state
// unchanged; it never panics.
type RunState struct {
	mu      sync.RWMutex
	current string
}

// NewRunState creates a state machine in the idle state.
func NewRunState() *RunState {
	return &RunState{current: RunIdle}
}

// Current returns the current state.
func (s *RunState) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Terminal reports whether the current state absorbs all transitions.
func (s *RunState) Terminal() bool {
	switch s.Current() {
	case RunDone, RunFailed, RunCancelled:
		return true
	}
	return false
}

// To attempts a transition. Only moves present in the adjacency table are
// permitted.
func (s *RunState) To(next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range runTransitions[s.current] {
		if allowed == next {
			s.current = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.current, next)
}
