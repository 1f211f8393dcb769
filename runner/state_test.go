package runner

import (
	"errors"
	"testing"
)

func TestRunStateTransitions(t *testing.T) {
	t.Run("normal lifecycle", func(t *testing.T) {
		s := NewRunState()
		for _, next := range []string{RunRunning, RunDone} {
			if err := s.To(next); err != nil {
				t.Fatalf("To(%s): %v", next, err)
			}
		}
		if !s.Terminal() {
			t.Error("done should be terminal")
		}
	})

	t.Run("pause and resume", func(t *testing.T) {
		s := NewRunState()
		_ = s.To(RunRunning)
		if err := s.To(RunPaused); err != nil {
			t.Fatalf("To(paused): %v", err)
		}
		if err := s.To(RunRunning); err != nil {
			t.Fatalf("To(running): %v", err)
		}
		if err := s.To(RunCancelled); err != nil {
			t.Fatalf("To(cancelled): %v", err)
		}
	})

	t.Run("illegal transition is rejected and state unchanged", func(t *testing.T) {
		s := NewRunState()
		if err := s.To(RunDone); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("idle->done = %v, want ErrInvalidTransition", err)
		}
		if s.Current() != RunIdle {
			t.Errorf("state changed to %s on rejected transition", s.Current())
		}
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		for _, terminal := range []string{RunDone, RunFailed, RunCancelled} {
			s := NewRunState()
			_ = s.To(RunRunning)
			_ = s.To(terminal)
			if err := s.To(RunRunning); err == nil {
				t.Errorf("%s accepted a transition out", terminal)
			}
		}
	})
}
