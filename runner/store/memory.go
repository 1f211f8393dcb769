package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store.
//
// Useful for tests and for one-shot CLI runs where results are consumed from
// the final report rather than queried later. All data is lost when the
// process exits.
type MemoryStore struct {
	mu            sync.RWMutex
	runs          map[string]RunRecord
	users         map[string]map[string]UserRecord          // run_id -> user_id
	nodes         map[string]map[string]NodeExecutionRecord // run_id/user_id -> node_id
	conversations map[string]ConversationRecord
	turns         map[string]map[int]TurnRecord // conversation_id -> turn_number
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:          make(map[string]RunRecord),
		users:         make(map[string]map[string]UserRecord),
		nodes:         make(map[string]map[string]NodeExecutionRecord),
		conversations: make(map[string]ConversationRecord),
		turns:         make(map[string]map[int]TurnRecord),
	}
}

// CreateRun implements Store.
func (m *MemoryStore) CreateRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// UpdateRun implements Store.
func (m *MemoryStore) UpdateRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = run
	return nil
}

// GetRun implements Store.
func (m *MemoryStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

// SaveUser implements Store.
func (m *MemoryStore) SaveUser(ctx context.Context, user UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.users[user.RunID]
	if !ok {
		byUser = make(map[string]UserRecord)
		m.users[user.RunID] = byUser
	}
	byUser[user.UserID] = user
	return nil
}

// ListUsers implements Store. Results are ordered by user ID for stable
// output.
func (m *MemoryStore) ListUsers(ctx context.Context, runID string) ([]UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byUser := m.users[runID]
	out := make([]UserRecord, 0, len(byUser))
	for _, user := range byUser {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// SaveNodeExecution implements Store.
func (m *MemoryStore) SaveNodeExecution(ctx context.Context, node NodeExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := node.RunID + "/" + node.UserID
	byNode, ok := m.nodes[key]
	if !ok {
		byNode = make(map[string]NodeExecutionRecord)
		m.nodes[key] = byNode
	}
	byNode[node.NodeID] = node
	return nil
}

// ListNodeExecutions returns the node outcomes for one (run, user) pair,
// ordered by node ID. Not part of the Store interface; handy in tests and
// reports.
func (m *MemoryStore) ListNodeExecutions(ctx context.Context, runID, userID string) ([]NodeExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byNode := m.nodes[runID+"/"+userID]
	out := make([]NodeExecutionRecord, 0, len(byNode))
	for _, node := range byNode {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// SaveConversation implements Store.
func (m *MemoryStore) SaveConversation(ctx context.Context, conv ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = conv
	return nil
}

// GetConversation retrieves a conversation by ID. Not part of the Store
// interface.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return ConversationRecord{}, ErrNotFound
	}
	return conv, nil
}

// SaveTurn implements Store.
func (m *MemoryStore) SaveTurn(ctx context.Context, turn TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTurn, ok := m.turns[turn.ConversationID]
	if !ok {
		byTurn = make(map[int]TurnRecord)
		m.turns[turn.ConversationID] = byTurn
	}
	byTurn[turn.TurnNumber] = turn
	return nil
}

// ListTurns implements Store.
func (m *MemoryStore) ListTurns(ctx context.Context, conversationID string) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTurn := m.turns[conversationID]
	out := make([]TurnRecord, 0, len(byTurn))
	for _, turn := range byTurn {
		out = append(out, turn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

// Close implements Store. It is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
