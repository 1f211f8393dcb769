package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises the Store interface against any implementation.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("run lifecycle", func(t *testing.T) {
		run := RunRecord{
			ID:           "run-1",
			ScenarioName: "checkout",
			Status:       "running",
			TotalUsers:   10,
			StartedAt:    started,
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}

		run.Status = "done"
		run.SuccessCount = 10
		run.ProgressPct = 100
		run.FinishedAt = started.Add(time.Minute)
		if err := s.UpdateRun(ctx, run); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}

		got, err := s.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != "done" || got.SuccessCount != 10 || got.ProgressPct != 100 {
			t.Errorf("got %+v, want updated run", got)
		}
		if got.ScenarioName != "checkout" {
			t.Errorf("got scenario %q", got.ScenarioName)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun(missing) = %v, want ErrNotFound", err)
		}
		if err := s.UpdateRun(ctx, RunRecord{ID: "nope"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateRun(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("user upsert and list", func(t *testing.T) {
		for _, id := range []string{"user-2", "user-1"} {
			user := UserRecord{
				RunID:     "run-1",
				UserID:    id,
				Status:    "running",
				StartedAt: started,
			}
			if err := s.SaveUser(ctx, user); err != nil {
				t.Fatalf("SaveUser: %v", err)
			}
		}

		done := UserRecord{
			RunID:           "run-1",
			UserID:          "user-1",
			Status:          "success",
			ExtractedFields: map[string]any{"tid": "T1"},
			StartedAt:       started,
			FinishedAt:      started.Add(time.Second),
		}
		if err := s.SaveUser(ctx, done); err != nil {
			t.Fatalf("SaveUser upsert: %v", err)
		}

		users, err := s.ListUsers(ctx, "run-1")
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("got %d users, want 2", len(users))
		}
		if users[0].UserID != "user-1" || users[1].UserID != "user-2" {
			t.Errorf("users not ordered: %v, %v", users[0].UserID, users[1].UserID)
		}
		if users[0].Status != "success" {
			t.Errorf("upsert lost: got status %q", users[0].Status)
		}
		if users[0].ExtractedFields["tid"] != "T1" {
			t.Errorf("got fields %v, want tid=T1", users[0].ExtractedFields)
		}
	})

	t.Run("node execution upsert", func(t *testing.T) {
		node := NodeExecutionRecord{
			RunID:    "run-1",
			UserID:   "user-1",
			NodeID:   "checkout",
			NodeType: "action",
			Status:   "running",
		}
		if err := s.SaveNodeExecution(ctx, node); err != nil {
			t.Fatalf("SaveNodeExecution: %v", err)
		}
		node.Status = "success"
		node.DurationMS = 412
		node.Response = map[string]any{"task_id": "T1"}
		if err := s.SaveNodeExecution(ctx, node); err != nil {
			t.Fatalf("SaveNodeExecution upsert: %v", err)
		}
	})

	t.Run("conversation and turns", func(t *testing.T) {
		conv := ConversationRecord{
			ID:     "run-1/user-1/dialog",
			RunID:  "run-1",
			UserID: "user-1",
			NodeID: "dialog",
			Status: "ONGOING",
		}
		if err := s.SaveConversation(ctx, conv); err != nil {
			t.Fatalf("SaveConversation: %v", err)
		}

		for i := 1; i <= 3; i++ {
			turn := TurnRecord{
				ConversationID: conv.ID,
				TurnNumber:     i,
				UserMessage:    "hello",
				AgentResponse:  "hi",
				TaskDetected:   i == 3,
				CreatedAt:      started.Add(time.Duration(i) * time.Second),
			}
			if i == 3 {
				turn.TaskID = "T9"
			}
			if err := s.SaveTurn(ctx, turn); err != nil {
				t.Fatalf("SaveTurn: %v", err)
			}
		}

		conv.Status = "COMPLETED"
		conv.TotalTurns = 3
		conv.TaskGenerated = true
		conv.TaskID = "T9"
		if err := s.SaveConversation(ctx, conv); err != nil {
			t.Fatalf("SaveConversation upsert: %v", err)
		}

		turns, err := s.ListTurns(ctx, conv.ID)
		if err != nil {
			t.Fatalf("ListTurns: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("got %d turns, want 3", len(turns))
		}
		for i, turn := range turns {
			if turn.TurnNumber != i+1 {
				t.Errorf("turns out of order: %v", turns)
			}
		}
		if !turns[2].TaskDetected || turns[2].TaskID != "T9" {
			t.Errorf("last turn lost detection: %+v", turns[2])
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	runStoreContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = s.Close() }()
	runStoreContract(t, s)

	t.Run("closed store rejects writes", func(t *testing.T) {
		closed, err := NewSQLiteStore(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		if err := closed.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := closed.Close(); err != nil {
			t.Errorf("double close should be a no-op, got %v", err)
		}
		if err := closed.CreateRun(context.Background(), RunRecord{ID: "x"}); err == nil {
			t.Error("expected error writing to closed store")
		}
	})
}
