package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/emit"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
)

// errConditionNotMet signals that a condition node evaluated false. The
// node is marked skipped, pruning its dependents, rather than failed.
var errConditionNotMet = fmt.Errorf("condition not met")

// nodeHandler executes one node type. Dispatch is by interface value, one
// handler per node type, rather than a type switch at the call site.
type nodeHandler interface {
	execute(ctx context.Context, ex *UserExecution, node NodeConfig, record *NodeExecutionRecord) error
}

// UserExecutor runs one user's full scenario graph once.
//
// It is stateless across users and safe for concurrent use: all per-user
// mutable state lives in the UserExecution it produces.
type UserExecutor struct {
	caller    agent.Caller
	evaluator *policy.Evaluator
	dialog    *DialogDriver
	emitter   emit.Emitter
	metrics   *Metrics

	handlers map[string]nodeHandler
}

// NewUserExecutor creates an executor. A nil emitter defaults to
// NullEmitter; metrics may be nil. The emitter is guarded: a panicking sink
// never fails node execution.
func NewUserExecutor(caller agent.Caller, evaluator *policy.Evaluator, emitter emit.Emitter, metrics *Metrics) *UserExecutor {
	emitter = emit.Guard(emitter)
	e := &UserExecutor{
		caller:    caller,
		evaluator: evaluator,
		dialog:    NewDialogDriver(caller, evaluator, emitter),
		emitter:   emitter,
		metrics:   metrics,
	}
	e.handlers = map[string]nodeHandler{
		NodeStart:     markerHandler{},
		NodeEnd:       markerHandler{},
		NodeAction:    actionHandler{executor: e},
		NodeAssertion: assertionHandler{failOnFalse: true},
		NodeCondition: assertionHandler{failOnFalse: false},
	}
	return e
}

// Execute runs the scenario for one virtual user.
//
// A cycle in the graph is user-fatal and returns an error before any node
// runs. Node-local failures are recorded on their execution records and the
// traversal continues, subject to dependency gating: a node whose
// dependency ended failed or skipped is itself skipped without execution,
// cascading down the graph.
func (e *UserExecutor) Execute(ctx context.Context, runID, userID string, scenario *Scenario, uc *UserContext) (*UserExecution, error) {
	order, err := scenario.TopoSort()
	if err != nil {
		return nil, err
	}

	ex := &UserExecution{
		RunID:         runID,
		UserID:        userID,
		Status:        StatusRunning,
		Context:       uc,
		Records:       make(map[string]*NodeExecutionRecord, len(order)),
		Conversations: make(map[string]*Conversation),
		StartTime:     time.Now(),
	}

	for _, id := range order {
		node, _ := scenario.Node(id)
		record := &NodeExecutionRecord{
			NodeID:   node.NodeID,
			NodeName: node.Name(),
			NodeType: node.NodeType,
			Status:   StatusPending,
		}
		ex.Records[id] = record

		if blocked, dep := e.gated(ex, node); blocked {
			record.finalize(StatusSkipped, fmt.Sprintf("dependency %s did not succeed", dep))
			continue
		}

		e.runNode(ctx, ex, node, record)
	}

	ex.EndTime = time.Now()
	if ex.Failed() {
		ex.Status = StatusFailed
	} else {
		ex.Status = StatusSuccess
	}

	e.emitter.Emit(emit.Event{
		Type:       emit.EventUserCompleted,
		RunID:      runID,
		UserID:     userID,
		DurationMS: float64(ex.EndTime.Sub(ex.StartTime)) / float64(time.Millisecond),
		Meta:       map[string]any{"status": ex.Status},
	})

	return ex, nil
}

// gated reports whether a dependency of the node ended failed or skipped.
func (e *UserExecutor) gated(ex *UserExecution, node NodeConfig) (bool, string) {
	for _, dep := range node.Dependencies {
		record, ok := ex.Records[dep]
		if !ok {
			continue
		}
		if record.Status == StatusFailed || record.Status == StatusSkipped {
			return true, dep
		}
	}
	return false, ""
}

func (e *UserExecutor) runNode(ctx context.Context, ex *UserExecution, node NodeConfig, record *NodeExecutionRecord) {
	record.Status = StatusRunning
	record.StartTime = time.Now()

	e.emitter.Emit(emit.Event{
		Type:   emit.EventNodeStarted,
		RunID:  ex.RunID,
		UserID: ex.UserID,
		NodeID: node.NodeID,
	})

	var err error
	if node.ExecutionMode == ModeMultiTurnDialog {
		err = e.runDialogNode(ctx, ex, node)
	} else if handler, ok := e.handlers[node.NodeType]; ok {
		err = handler.execute(ctx, ex, node, record)
	} else {
		err = &NodeError{NodeID: node.NodeID, Code: CodeUnknownNodeType,
			Message: fmt.Sprintf("no handler for node type %q", node.NodeType)}
	}

	switch {
	case err == nil:
		record.finalize(StatusSuccess, "")
	case err == errConditionNotMet:
		record.finalize(StatusSkipped, fmt.Sprintf("condition %q not met", node.Expression))
	default:
		record.finalize(StatusFailed, err.Error())
	}

	e.metrics.ObserveNode(node.NodeType, record.Status, record.DurationMS)

	eventType := emit.EventNodeCompleted
	if record.Status == StatusFailed {
		eventType = emit.EventNodeFailed
	}
	e.emitter.Emit(emit.Event{
		Type:       eventType,
		RunID:      ex.RunID,
		UserID:     ex.UserID,
		NodeID:     node.NodeID,
		DurationMS: record.DurationMS,
		Request:    record.Request,
		Response:   record.Response,
		Error:      record.Error,
		Meta:       map[string]any{"status": record.Status},
	})
}

func (e *UserExecutor) runDialogNode(ctx context.Context, ex *UserExecution, node NodeConfig) error {
	conv := e.dialog.Run(ctx, ex.RunID, ex.UserID, node, ex.Context)
	ex.Conversations[node.NodeID] = conv
	e.metrics.AddDialogTurns(len(conv.Turns))
	if conv.Status != ConvCompleted {
		return &NodeError{NodeID: node.NodeID, Code: CodeDialogFailed,
			Message: fmt.Sprintf("conversation ended %s after %d turns", conv.Status, conv.TotalTurns)}
	}
	return nil
}

// markerHandler covers start and end nodes, which are structural markers
// and always succeed immediately.
type markerHandler struct{}

func (markerHandler) execute(ctx context.Context, ex *UserExecution, node NodeConfig, record *NodeExecutionRecord) error {
	return nil
}

// actionHandler builds a payload from the user's context, calls the agent,
// and extracts response fields back into the context.
type actionHandler struct {
	executor *UserExecutor
}

func (h actionHandler) execute(ctx context.Context, ex *UserExecution, node NodeConfig, record *NodeExecutionRecord) error {
	uc := ex.Context
	payload := uc.BuildPayload(node.PayloadTemplate)
	record.Request = payload

	result := h.executor.caller.Call(ctx, agent.Request{
		Method:   node.Method,
		Endpoint: node.Endpoint,
		Payload:  payload,
		Headers:  uc.Headers(),
	})
	h.executor.metrics.ObserveAgentCall(result.Success)

	if !result.Success {
		return &NodeError{NodeID: node.NodeID, Code: CodeHTTPFailed, Message: result.Error}
	}

	record.Response = result.Response
	uc.ExtractFields(result.Response, node.ExtractionMap)
	return nil
}

// assertionHandler evaluates a boolean expression against the user's
// extracted fields. With failOnFalse, a false result fails the node
// (assertion semantics); without it, a false result skips the node and its
// dependents (condition semantics). Evaluation errors always fail.
type assertionHandler struct {
	failOnFalse bool
}

func (h assertionHandler) execute(ctx context.Context, ex *UserExecution, node NodeConfig, record *NodeExecutionRecord) error {
	ok, err := policy.EvalPredicate(node.Expression, map[string]any{
		"context": ex.Context.ExtractedFields,
	})
	if err != nil {
		return &NodeError{NodeID: node.NodeID, Code: CodeEvalError,
			Message: fmt.Sprintf("expression %q: %v", node.Expression, err)}
	}
	if !ok {
		if h.failOnFalse {
			return &NodeError{NodeID: node.NodeID, Code: CodeAssertionFailed,
				Message: fmt.Sprintf("assertion %q evaluated false", node.Expression)}
		}
		return errConditionNotMet
	}
	return nil
}
