// Package runner implements the behavioral load-test engine: scenario
// graphs, per-user DAG execution, multi-turn dialog driving and run-level
// fan-out with aggregation.
package runner

import (
	"errors"
	"fmt"
)

// ErrCycle indicates that a scenario's dependency graph contains a cycle.
// This is a scenario-fatal error: it aborts the run before any node
// executes.
var ErrCycle = errors.New("scenario graph contains a cycle")

// ErrInvalidTransition indicates a run state transition not present in the
// state machine's adjacency table. Illegal transitions are rejected, never
// applied.
var ErrInvalidTransition = errors.New("invalid run state transition")

// ErrRunTimeout indicates that the run-level timeout elapsed before all
// user executions finished.
var ErrRunTimeout = errors.New("run timed out")

// Node error codes.
const (
	CodeHTTPFailed      = "http_failed"
	CodeAssertionFailed = "assertion_failed"
	CodeEvalError       = "eval_error"
	CodeDialogFailed    = "dialog_failed"
	CodeUnknownNodeType = "unknown_node_type"
)

// NodeError describes a node-local failure. Node-local failures are
// recorded on the node's execution record and never abort the user's
// traversal.
type NodeError struct {
	// NodeID identifies the failing node.
	NodeID string

	// Message is the human-readable failure description.
	Message string

	// Code classifies the failure. Use the Code* constants.
	Code string
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("node %s [%s]: %s", e.NodeID, e.Code, e.Message)
	}
	return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
}
