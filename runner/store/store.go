// Package store persists test-run results: runs, per-user executions, node
// outcomes, conversations and dialog turns.
//
// Three implementations are provided:
//   - MemoryStore: zero-setup, for tests and one-shot CLI runs
//   - SQLiteStore: single-file persistence for local development
//   - MySQLStore: shared persistence for CI and team dashboards
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunRecord is the persisted form of one test run.
type RunRecord struct {
	ID           string
	ScenarioName string
	Status       string
	TotalUsers   int
	SuccessCount int
	FailedCount  int
	ProgressPct  int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// UserRecord is the persisted outcome of one virtual user.
type UserRecord struct {
	RunID           string
	UserID          string
	Status          string
	ErrorMessage    string
	ExtractedFields map[string]any
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NodeExecutionRecord is the persisted outcome of one node for one user.
type NodeExecutionRecord struct {
	RunID      string
	UserID     string
	NodeID     string
	NodeName   string
	NodeType   string
	Status     string
	Error      string
	DurationMS float64
	Request    map[string]any
	Response   map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
}

// ConversationRecord is the persisted summary of one multi-turn dialog.
type ConversationRecord struct {
	ID            string
	RunID         string
	UserID        string
	NodeID        string
	Status        string
	TotalTurns    int
	TaskGenerated bool
	TaskID        string
	DurationMS    float64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TurnRecord is one persisted dialog turn.
type TurnRecord struct {
	ConversationID string
	TurnNumber     int
	UserMessage    string
	AgentResponse  string
	TaskDetected   bool
	TaskID         string
	DurationMS     float64
	CreatedAt      time.Time
}

// Store persists run results.
//
// Save methods are upserts keyed by the record's natural key, so callers can
// write a record when an execution starts and overwrite it when it finishes.
// Implementations must be safe for concurrent use: every virtual user writes
// its own records while a run is in flight.
type Store interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run RunRecord) error

	// UpdateRun overwrites an existing run record.
	// Returns ErrNotFound when the run does not exist.
	UpdateRun(ctx context.Context, run RunRecord) error

	// GetRun retrieves a run by ID.
	// Returns ErrNotFound when the run does not exist.
	GetRun(ctx context.Context, runID string) (RunRecord, error)

	// SaveUser upserts a user execution, keyed by (run_id, user_id).
	SaveUser(ctx context.Context, user UserRecord) error

	// ListUsers returns all user executions of a run.
	ListUsers(ctx context.Context, runID string) ([]UserRecord, error)

	// SaveNodeExecution upserts a node outcome, keyed by
	// (run_id, user_id, node_id).
	SaveNodeExecution(ctx context.Context, node NodeExecutionRecord) error

	// SaveConversation upserts a conversation summary, keyed by ID.
	SaveConversation(ctx context.Context, conv ConversationRecord) error

	// SaveTurn upserts a dialog turn, keyed by
	// (conversation_id, turn_number).
	SaveTurn(ctx context.Context, turn TurnRecord) error

	// ListTurns returns a conversation's turns ordered by turn number.
	ListTurns(ctx context.Context, conversationID string) ([]TurnRecord, error)

	// Close releases the store's resources.
	Close() error
}
