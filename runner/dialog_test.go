package runner

import (
	"context"
	"testing"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
)

func dialogNode(maxTurns uint) NodeConfig {
	n := NodeConfig{
		NodeID:        "chat",
		NodeType:      NodeAction,
		ExecutionMode: ModeMultiTurnDialog,
	}
	n.Policy.Exit = policy.ExitPolicy{MaxTurns: maxTurns}
	n.Policy.Message = policy.MessagePolicy{
		Strategy:  policy.StrategyTemplate,
		Templates: []string{"hello", "and then?"},
	}
	n.Policy.TaskDetection = policy.TaskDetectionPolicy{
		Mode:     policy.DetectKeyword,
		Keywords: []string{"task_id"},
	}
	return n
}

func TestDialogRunsToTurnLimit(t *testing.T) {
	caller := &agent.MockCaller{
		Results: []agent.Result{{Success: true, Response: map[string]any{"reply": "ok"}}},
	}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)

	conv := driver.Run(context.Background(), "run-1", "user-1", dialogNode(3), NewUserContext("", ""))

	if conv.Status != ConvCompleted {
		t.Fatalf("got status %s, want COMPLETED", conv.Status)
	}
	if conv.TotalTurns != 3 {
		t.Errorf("got %d turns, want 3", conv.TotalTurns)
	}
	if conv.TaskGenerated {
		t.Error("no task should be detected")
	}
	for i, turn := range conv.Turns {
		if turn.TurnNumber != i+1 {
			t.Errorf("turn numbers not strictly increasing: %+v", conv.Turns)
		}
	}
	// Template cycling: hello, and then?, hello.
	if conv.Turns[0].UserMessage != "hello" || conv.Turns[1].UserMessage != "and then?" || conv.Turns[2].UserMessage != "hello" {
		t.Errorf("messages did not cycle: %+v", conv.Turns)
	}
}

func TestDialogEmptyPolicyIsBounded(t *testing.T) {
	caller := &agent.MockCaller{
		Results: []agent.Result{{Success: true, Response: map[string]any{"reply": "ok"}}},
	}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)

	// No exit policy at all: the default turn bound must end the dialog.
	node := NodeConfig{
		NodeID:        "chat",
		NodeType:      NodeAction,
		ExecutionMode: ModeMultiTurnDialog,
	}
	conv := driver.Run(context.Background(), "run-1", "user-1", node, NewUserContext("", ""))

	if conv.Status != ConvCompleted {
		t.Fatalf("got status %s, want COMPLETED", conv.Status)
	}
	if conv.TotalTurns != int(policy.DefaultMaxTurns) {
		t.Errorf("got %d turns, want the default bound of %d", conv.TotalTurns, policy.DefaultMaxTurns)
	}
	if caller.CallCount() != int(policy.DefaultMaxTurns) {
		t.Errorf("agent called %d times, want %d", caller.CallCount(), policy.DefaultMaxTurns)
	}
}

func TestDialogEarlyExitOnTaskDetection(t *testing.T) {
	caller := &agent.MockCaller{
		Results: []agent.Result{
			{Success: true, Response: map[string]any{"reply": "working on it"}},
			{Success: true, Response: map[string]any{"Task_ID": "T7", "task_id": "T7"}},
		},
	}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)

	conv := driver.Run(context.Background(), "run-1", "user-1", dialogNode(10), NewUserContext("", ""))

	if conv.TotalTurns != 2 {
		t.Fatalf("got %d turns, want early exit at 2", conv.TotalTurns)
	}
	if !conv.TaskGenerated || conv.TaskID != "T7" {
		t.Errorf("terminal fields not derived: %+v", conv)
	}
	if conv.Status != ConvCompleted {
		t.Errorf("got status %s", conv.Status)
	}
}

func TestDialogSurvivesFailedAgentCall(t *testing.T) {
	caller := &agent.MockCaller{
		Results: []agent.Result{
			{Success: false, Error: "HTTP 502: bad gateway"},
			{Success: true, Response: map[string]any{"reply": "recovered"}},
		},
	}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)

	conv := driver.Run(context.Background(), "run-1", "user-1", dialogNode(2), NewUserContext("", ""))

	if conv.Status != ConvCompleted {
		t.Fatalf("a single failed call must not fail the conversation, got %s", conv.Status)
	}
	if conv.TotalTurns != 2 {
		t.Fatalf("got %d turns, want 2", conv.TotalTurns)
	}
	if conv.Turns[0].AgentResponse != "" {
		t.Errorf("failed turn should record an empty response, got %q", conv.Turns[0].AgentResponse)
	}
	if conv.Turns[1].AgentResponse == "" {
		t.Error("second turn should carry the recovered response")
	}
}

func TestDialogCancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	caller := &agent.MockCaller{}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)

	conv := driver.Run(ctx, "run-1", "user-1", dialogNode(5), NewUserContext("", ""))
	if conv.Status != ConvFailed {
		t.Errorf("got status %s, want FAILED on cancellation", conv.Status)
	}
	if conv.TotalTurns != 0 {
		t.Errorf("no turns should run after cancellation, got %d", conv.TotalTurns)
	}
}

func TestDialogAppendsHistory(t *testing.T) {
	caller := &agent.MockCaller{
		Results: []agent.Result{{Success: true, Response: map[string]any{"reply": "ok"}}},
	}
	driver := NewDialogDriver(caller, policy.NewEvaluator(nil), nil)
	uc := NewUserContext("", "")

	driver.Run(context.Background(), "run-1", "user-1", dialogNode(2), uc)
	if len(uc.DialogHistory) != 2 {
		t.Errorf("got %d history entries, want 2", len(uc.DialogHistory))
	}
}
