package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store.
//
// Intended for shared deployments where multiple test workers write into one
// database and dashboards query results across runs. The DSN should include
// parseTime=true, e.g.:
//
//	user:pass@tcp(db:3306)/loadtest?parseTime=true
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to MySQL and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS test_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			scenario_name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			total_users INT NOT NULL DEFAULT 0,
			success_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			progress_pct INT NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at DATETIME(6) NULL,
			finished_at DATETIME(6) NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_executions (
			run_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_message TEXT,
			extracted_fields JSON,
			started_at DATETIME(6) NULL,
			finished_at DATETIME(6) NULL,
			PRIMARY KEY (run_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			run_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			node_name VARCHAR(255) NOT NULL DEFAULT '',
			node_type VARCHAR(32) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			error TEXT,
			duration_ms DOUBLE NOT NULL DEFAULT 0,
			request JSON,
			response JSON,
			started_at DATETIME(6) NULL,
			finished_at DATETIME(6) NULL,
			PRIMARY KEY (run_id, user_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			status VARCHAR(32) NOT NULL,
			total_turns INT NOT NULL DEFAULT 0,
			task_generated TINYINT(1) NOT NULL DEFAULT 0,
			task_id VARCHAR(128) NOT NULL DEFAULT '',
			duration_ms DOUBLE NOT NULL DEFAULT 0,
			started_at DATETIME(6) NULL,
			finished_at DATETIME(6) NULL,
			KEY idx_conversations_run (run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS dialog_turns (
			conversation_id VARCHAR(128) NOT NULL,
			turn_number INT NOT NULL,
			user_message TEXT,
			agent_response TEXT,
			task_detected TINYINT(1) NOT NULL DEFAULT 0,
			task_id VARCHAR(128) NOT NULL DEFAULT '',
			duration_ms DOUBLE NOT NULL DEFAULT 0,
			created_at DATETIME(6) NULL,
			PRIMARY KEY (conversation_id, turn_number)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateRun implements Store.
func (s *MySQLStore) CreateRun(ctx context.Context, run RunRecord) error {
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
		nullTime(run.StartedAt), nullTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun implements Store.
func (s *MySQLStore) UpdateRun(ctx context.Context, run RunRecord) error {
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
		run.ErrorMessage, nullTime(run.StartedAt), nullTime(run.FinishedAt),
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// MySQL reports zero affected rows for no-op updates too, so
		// confirm the run really is missing.
		if _, getErr := s.GetRun(ctx, run.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// GetRun implements Store.
func (s *MySQLStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	query := `
		SELECT id, scenario_name, status, total_users, success_count, failed_count, progress_pct, error_message, started_at, finished_at
		FROM test_runs WHERE id = ?
	`
	var run RunRecord
	var startedAt, finishedAt sql.NullTime
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
	run.StartedAt = startedAt.Time
	run.FinishedAt = finishedAt.Time
	return run, nil
}

// SaveUser implements Store.
func (s *MySQLStore) SaveUser(ctx context.Context, user UserRecord) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			error_message = VALUES(error_message),
			extracted_fields = VALUES(extracted_fields),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`
	_, err = s.db.ExecContext(ctx, query,
		user.RunID, user.UserID, user.Status, user.ErrorMessage,
		string(fields), nullTime(user.StartedAt), nullTime(user.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ListUsers implements Store.
func (s *MySQLStore) ListUsers(ctx context.Context, runID string) ([]UserRecord, error) {
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
		var fieldsJSON sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&user.RunID, &user.UserID, &user.Status, &user.ErrorMessage,
			&fieldsJSON, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &user.ExtractedFields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extracted fields: %w", err)
			}
		}
		user.StartedAt = startedAt.Time
		user.FinishedAt = finishedAt.Time
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// SaveNodeExecution implements Store.
func (s *MySQLStore) SaveNodeExecution(ctx context.Context, node NodeExecutionRecord) error {
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
		ON DUPLICATE KEY UPDATE
			node_name = VALUES(node_name),
			node_type = VALUES(node_type),
			status = VALUES(status),
			error = VALUES(error),
			duration_ms = VALUES(duration_ms),
			request = VALUES(request),
			response = VALUES(response),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`
	_, err = s.db.ExecContext(ctx, query,
		node.RunID, node.UserID, node.NodeID, node.NodeName, node.NodeType,
		node.Status, node.Error, node.DurationMS, string(request), string(response),
		nullTime(node.StartedAt), nullTime(node.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save node execution: %w", err)
	}
	return nil
}

// SaveConversation implements Store.
func (s *MySQLStore) SaveConversation(ctx context.Context, conv ConversationRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO conversations
		(id, run_id, user_id, node_id, status, total_turns, task_generated, task_id, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			total_turns = VALUES(total_turns),
			task_generated = VALUES(task_generated),
			task_id = VALUES(task_id),
			duration_ms = VALUES(duration_ms),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.RunID, conv.UserID, conv.NodeID, conv.Status,
		conv.TotalTurns, conv.TaskGenerated, conv.TaskID, conv.DurationMS,
		nullTime(conv.StartedAt), nullTime(conv.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// SaveTurn implements Store.
func (s *MySQLStore) SaveTurn(ctx context.Context, turn TurnRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO dialog_turns
		(conversation_id, turn_number, user_message, agent_response, task_detected, task_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			user_message = VALUES(user_message),
			agent_response = VALUES(agent_response),
			task_detected = VALUES(task_detected),
			task_id = VALUES(task_id),
			duration_ms = VALUES(duration_ms),
			created_at = VALUES(created_at)
	`
	_, err := s.db.ExecContext(ctx, query,
		turn.ConversationID, turn.TurnNumber, turn.UserMessage, turn.AgentResponse,
		turn.TaskDetected, turn.TaskID, turn.DurationMS, nullTime(turn.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// ListTurns implements Store.
func (s *MySQLStore) ListTurns(ctx context.Context, conversationID string) ([]TurnRecord, error) {
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
		var createdAt sql.NullTime
		if err := rows.Scan(&turn.ConversationID, &turn.TurnNumber, &turn.UserMessage,
			&turn.AgentResponse, &turn.TaskDetected, &turn.TaskID, &turn.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.CreatedAt = createdAt.Time
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

// Close implements Store. Double-close is a no-op.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
