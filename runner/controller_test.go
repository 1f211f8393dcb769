package runner

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/store"
)

func simpleScenario() *Scenario {
	return &Scenario{Name: "simple", Nodes: []NodeConfig{
		{NodeID: "start", NodeType: NodeStart},
		{NodeID: "A", NodeType: NodeAction, Dependencies: []string{"start"}, Endpoint: "/a"},
		{NodeID: "end", NodeType: NodeEnd, Dependencies: []string{"A"}},
	}}
}

// sessionCaller fails calls for the configured session suffixes and records
// the peak number of concurrent calls.
type sessionCaller struct {
	failSuffixes []string
	delay        time.Duration

	inflight int64
	peak     int64
	mu       sync.Mutex
}

func (s *sessionCaller) Call(ctx context.Context, req agent.Request) agent.Result {
	current := atomic.AddInt64(&s.inflight, 1)
	defer atomic.AddInt64(&s.inflight, -1)

	s.mu.Lock()
	if current > s.peak {
		s.peak = current
	}
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return agent.Result{Error: ctx.Err().Error()}
		}
	}

	session := req.Headers["X-Session-ID"]
	for _, suffix := range s.failSuffixes {
		if strings.HasSuffix(session, suffix) {
			return agent.Result{Error: "HTTP 500: injected failure"}
		}
	}
	return agent.Result{Success: true, Response: map[string]any{}}
}

func (s *sessionCaller) Peak() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func newTestController(st store.Store, caller agent.Caller) *Controller {
	return NewController(st, caller, policy.NewEvaluator(nil), nil, nil)
}

func TestRunAggregationExact(t *testing.T) {
	caller := &sessionCaller{failSuffixes: []string{"user-001", "user-002", "user-003"}}
	st := store.NewMemoryStore()
	controller := newTestController(st, caller)

	result, err := controller.Run(context.Background(), simpleScenario(), RunOptions{
		RunID:       "run-agg",
		TotalUsers:  10,
		Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.SuccessCount != 7 || result.FailedCount != 3 {
		t.Errorf("got %d/%d, want 7 success and 3 failed", result.SuccessCount, result.FailedCount)
	}
	if result.ProgressPct != 100 {
		t.Errorf("got progress %d, want 100", result.ProgressPct)
	}
	if result.Status != RunFailed {
		t.Errorf("got status %s, want failed when any user fails", result.Status)
	}

	record, err := st.GetRun(context.Background(), "run-agg")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if record.Status != RunFailed || record.SuccessCount != 7 {
		t.Errorf("persisted run out of sync: %+v", record)
	}
	users, _ := st.ListUsers(context.Background(), "run-agg")
	if len(users) != 10 {
		t.Errorf("got %d persisted users, want 10", len(users))
	}
}

func TestRunAllSuccessIsDone(t *testing.T) {
	caller := &sessionCaller{}
	controller := newTestController(nil, caller)

	result, err := controller.Run(context.Background(), simpleScenario(), RunOptions{TotalUsers: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != RunDone {
		t.Errorf("got status %s, want done", result.Status)
	}
	if result.SuccessCount != 5 || result.FailedCount != 0 {
		t.Errorf("got %d/%d", result.SuccessCount, result.FailedCount)
	}
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	caller := &sessionCaller{delay: 30 * time.Millisecond}
	controller := newTestController(nil, caller)

	_, err := controller.Run(context.Background(), simpleScenario(), RunOptions{
		TotalUsers:  10,
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak := caller.Peak(); peak > 3 {
		t.Errorf("observed %d concurrent agent calls, bound is 3", peak)
	}
}

func TestRunTimeout(t *testing.T) {
	caller := &sessionCaller{delay: time.Second}
	controller := newTestController(nil, caller)

	start := time.Now()
	result, err := controller.Run(context.Background(), simpleScenario(), RunOptions{
		TotalUsers:  2,
		Concurrency: 2,
		Timeout:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("run did not return promptly on timeout")
	}
	if result.Status != RunFailed {
		t.Errorf("got status %s, want failed on timeout", result.Status)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("got error %q, want timeout message", result.Error)
	}
	if result.FailedCount != 2 {
		t.Errorf("outstanding users must count failed, got %d", result.FailedCount)
	}
}

func TestRunCancel(t *testing.T) {
	caller := &sessionCaller{delay: time.Second}
	controller := newTestController(nil, caller)

	done := make(chan *RunResult, 1)
	go func() {
		result, _ := controller.Run(context.Background(), simpleScenario(), RunOptions{
			RunID:       "run-cancel",
			TotalUsers:  3,
			Concurrency: 1,
		})
		done <- result
	}()

	time.Sleep(50 * time.Millisecond)
	if err := controller.Cancel("run-cancel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case result := <-done:
		if result.Status != RunCancelled {
			t.Errorf("got status %s, want cancelled", result.Status)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	if err := controller.Cancel("run-cancel"); err == nil {
		t.Error("cancelling a terminal run should fail")
	}
}

func TestRunInvalidScenarioAborts(t *testing.T) {
	caller := &sessionCaller{}
	controller := newTestController(nil, caller)

	cyclic := &Scenario{Name: "cyclic", Nodes: []NodeConfig{
		{NodeID: "a", NodeType: NodeAction, Dependencies: []string{"b"}},
		{NodeID: "b", NodeType: NodeAction, Dependencies: []string{"a"}},
	}}

	result, err := controller.Run(context.Background(), cyclic, RunOptions{TotalUsers: 3})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if result.Status != RunFailed {
		t.Errorf("got status %s, want failed", result.Status)
	}
	if caller.Peak() != 0 {
		t.Error("no agent call may happen for an invalid scenario")
	}
}

func TestRunHandleReleasedAfterTerminal(t *testing.T) {
	controller := newTestController(nil, &sessionCaller{})

	for i := 0; i < 5; i++ {
		runID := "run-release-" + strings.Repeat("x", i+1)
		if _, err := controller.Run(context.Background(), simpleScenario(), RunOptions{
			RunID:      runID,
			TotalUsers: 2,
		}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	controller.mu.Lock()
	live := len(controller.runs)
	controller.mu.Unlock()
	if live != 0 {
		t.Errorf("%d handles retained after terminal runs, want 0", live)
	}

	// Terminal runs are no longer cancellable but stay queryable.
	if err := controller.Cancel("run-release-x"); err == nil {
		t.Error("cancelling a finished run should fail")
	}
	record, err := controller.Status(context.Background(), "run-release-x")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if record.Status != RunDone {
		t.Errorf("persisted status = %s, want done", record.Status)
	}
}

func TestRunUnknownCancelTarget(t *testing.T) {
	controller := newTestController(nil, &sessionCaller{})
	if err := controller.Cancel("ghost"); err == nil {
		t.Error("expected error for unknown run")
	}
}
