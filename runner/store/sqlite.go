package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps all run results in a single-file database. Designed for local
// development and CI jobs where a full database server is not worth the
// setup; results survive the process and can be inspected with any SQLite
// client.
//
// SQLiteStore uses WAL mode so report queries can run while a test is still
// writing.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./results.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
// For testing with an in-memory database use ":memory:" as the path.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS test_runs (
			id TEXT NOT NULL PRIMARY KEY,
			scenario_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			total_users INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			progress_pct INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_executions (
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			extracted_fields TEXT NOT NULL DEFAULT '{}',
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			PRIMARY KEY (run_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_name TEXT NOT NULL DEFAULT '',
			node_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms REAL NOT NULL DEFAULT 0,
			request TEXT NOT NULL DEFAULT '{}',
			response TEXT NOT NULL DEFAULT '{}',
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			PRIMARY KEY (run_id, user_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT NOT NULL PRIMARY KEY,
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_turns INTEGER NOT NULL DEFAULT 0,
			task_generated INTEGER NOT NULL DEFAULT 0,
			task_id TEXT NOT NULL DEFAULT '',
			duration_ms REAL NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS dialog_turns (
			conversation_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_message TEXT NOT NULL DEFAULT '',
			agent_response TEXT NOT NULL DEFAULT '',
			task_detected INTEGER NOT NULL DEFAULT 0,
			task_id TEXT NOT NULL DEFAULT '',
			duration_ms REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			PRIMARY KEY (conversation_id, turn_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_run ON user_executions(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_run_user ON node_executions(run_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_run ON conversations(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON dialog_turns(conversation_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, run RunRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO test_runs
		(id, scenario_name, status, total_users, success_count, failed_count, progress_pct, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.ScenarioName, run.Status, run.TotalUsers,
		run.SuccessCount, run.FailedCount, run.ProgressPct, run.ErrorMessage,
		timeArg(run.StartedAt), timeArg(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun implements Store.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run RunRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		UPDATE test_runs SET
			scenario_name = ?, status = ?, total_users = ?,
			success_count = ?, failed_count = ?, progress_pct = ?,
			error_message = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		run.ScenarioName, run.Status, run.TotalUsers,
		run.SuccessCount, run.FailedCount, run.ProgressPct,
		run.ErrorMessage, timeArg(run.StartedAt), timeArg(run.FinishedAt),
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	query := `
		SELECT id, scenario_name, status, total_users, success_count, failed_count, progress_pct, error_message, started_at, finished_at
		FROM test_runs WHERE id = ?
	`
	var run RunRecord
	var startedAt, finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.ScenarioName, &run.Status, &run.TotalUsers,
		&run.SuccessCount, &run.FailedCount, &run.ProgressPct, &run.ErrorMessage,
		&startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.StartedAt = parseTimeArg(startedAt)
	run.FinishedAt = parseTimeArg(finishedAt)
	return run, nil
}

// SaveUser implements Store.
func (s *SQLiteStore) SaveUser(ctx context.Context, user UserRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	fields, err := json.Marshal(user.ExtractedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted fields: %w", err)
	}
	query := `
		INSERT INTO user_executions
		(run_id, user_id, status, error_message, extracted_fields, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, user_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			extracted_fields = excluded.extracted_fields,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	_, err = s.db.ExecContext(ctx, query,
		user.RunID, user.UserID, user.Status, user.ErrorMessage,
		string(fields), timeArg(user.StartedAt), timeArg(user.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ListUsers implements Store.
func (s *SQLiteStore) ListUsers(ctx context.Context, runID string) ([]UserRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT run_id, user_id, status, error_message, extracted_fields, started_at, finished_at
		FROM user_executions WHERE run_id = ? ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []UserRecord
	for rows.Next() {
		var user UserRecord
		var fieldsJSON string
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&user.RunID, &user.UserID, &user.Status, &user.ErrorMessage,
			&fieldsJSON, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &user.ExtractedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extracted fields: %w", err)
		}
		user.StartedAt = parseTimeArg(startedAt)
		user.FinishedAt = parseTimeArg(finishedAt)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// SaveNodeExecution implements Store.
func (s *SQLiteStore) SaveNodeExecution(ctx context.Context, node NodeExecutionRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	request, err := json.Marshal(node.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	response, err := json.Marshal(node.Response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	query := `
		INSERT INTO node_executions
		(run_id, user_id, node_id, node_name, node_type, status, error, duration_ms, request, response, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, user_id, node_id) DO UPDATE SET
			node_name = excluded.node_name,
			node_type = excluded.node_type,
			status = excluded.status,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			request = excluded.request,
			response = excluded.response,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	_, err = s.db.ExecContext(ctx, query,
		node.RunID, node.UserID, node.NodeID, node.NodeName, node.NodeType,
		node.Status, node.Error, node.DurationMS, string(request), string(response),
		timeArg(node.StartedAt), timeArg(node.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save node execution: %w", err)
	}
	return nil
}

// SaveConversation implements Store.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv ConversationRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO conversations
		(id, run_id, user_id, node_id, status, total_turns, task_generated, task_id, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_turns = excluded.total_turns,
			task_generated = excluded.task_generated,
			task_id = excluded.task_id,
			duration_ms = excluded.duration_ms,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.RunID, conv.UserID, conv.NodeID, conv.Status,
		conv.TotalTurns, boolArg(conv.TaskGenerated), conv.TaskID, conv.DurationMS,
		timeArg(conv.StartedAt), timeArg(conv.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// SaveTurn implements Store.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn TurnRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO dialog_turns
		(conversation_id, turn_number, user_message, agent_response, task_detected, task_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, turn_number) DO UPDATE SET
			user_message = excluded.user_message,
			agent_response = excluded.agent_response,
			task_detected = excluded.task_detected,
			task_id = excluded.task_id,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		turn.ConversationID, turn.TurnNumber, turn.UserMessage, turn.AgentResponse,
		boolArg(turn.TaskDetected), turn.TaskID, turn.DurationMS, timeArg(turn.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// ListTurns implements Store.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string) ([]TurnRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT conversation_id, turn_number, user_message, agent_response, task_detected, task_id, duration_ms, created_at
		FROM dialog_turns WHERE conversation_id = ? ORDER BY turn_number
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []TurnRecord
	for rows.Next() {
		var turn TurnRecord
		var detected int
		var createdAt sql.NullString
		if err := rows.Scan(&turn.ConversationID, &turn.TurnNumber, &turn.UserMessage,
			&turn.AgentResponse, &detected, &turn.TaskID, &turn.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.TaskDetected = detected != 0
		turn.CreatedAt = parseTimeArg(createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

// Close implements Store. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeArg(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
