package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModelSequence(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{{Text: "first"}, {Text: "second"}},
	}

	ctx := context.Background()
	for i, want := range []string{"first", "second", "second"} {
		out, err := mock.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}})
		if err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
		if out.Text != want {
			t.Errorf("call %d = %q, want %q", i, out.Text, want)
		}
	}
	if mock.CallCount() != 3 {
		t.Errorf("got %d calls, want 3", mock.CallCount())
	}
}

func TestMockChatModelError(t *testing.T) {
	wantErr := errors.New("provider down")
	mock := &MockChatModel{Err: wantErr}

	if _, err := mock.Chat(context.Background(), nil); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want configured error", err)
	}
}

func TestMockChatModelCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &MockChatModel{Responses: []ChatOut{{Text: "never"}}}
	if _, err := mock.Chat(ctx, nil); err == nil {
		t.Fatal("expected context error")
	}
	if mock.CallCount() != 0 {
		t.Error("cancelled call must not be recorded")
	}
}

func TestMockChatModelReset(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}

	_, _ = mock.Chat(context.Background(), nil)
	mock.Reset()

	out, _ := mock.Chat(context.Background(), nil)
	if out.Text != "a" {
		t.Errorf("cursor not reset, got %q", out.Text)
	}
	if mock.CallCount() != 1 {
		t.Errorf("history not cleared, got %d calls", mock.CallCount())
	}
}
