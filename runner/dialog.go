package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/emit"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
)

// Conversation statuses.
const (
	ConvPending   = "PENDING"
	ConvOngoing   = "ONGOING"
	ConvCompleted = "COMPLETED"
	ConvFailed    = "FAILED"
)

// defaultDialogEndpoint is used when a dialog node configures no endpoint.
const defaultDialogEndpoint = "/chat"

// DialogTurn is one exchange in a conversation. Turns are appended in
// strictly increasing turn number.
type DialogTurn struct {
	TurnNumber    int
	UserMessage   string
	AgentResponse string
	TaskDetected  bool
	TaskID        string
	DurationMS    float64
}

// Conversation is one multi-turn dialog for a (user, node) pair.
type Conversation struct {
	ID     string
	NodeID string
	Status string

	Turns []DialogTurn

	// Terminal fields, derived from the recorded turns on completion.
	TotalTurns    int
	TaskGenerated bool
	TaskID        string
	DurationMS    float64

	StartedAt  time.Time
	FinishedAt time.Time
}

// DialogDriver runs one multi-turn conversation to completion for a single
// (user, node) pair.
type DialogDriver struct {
	caller    agent.Caller
	evaluator *policy.Evaluator
	emitter   emit.Emitter
}

// NewDialogDriver creates a driver. A nil emitter defaults to NullEmitter.
func NewDialogDriver(caller agent.Caller, evaluator *policy.Evaluator, emitter emit.Emitter) *DialogDriver {
	return &DialogDriver{caller: caller, evaluator: evaluator, emitter: emit.Guard(emitter)}
}

// Run drives the conversation until an exit condition fires.
//
// The loop sends an initial message, then repeatedly asks the policy
// evaluator whether to continue, generates the next message, and sends it.
// Task detection forces an early exit regardless of remaining turn budget. A
// failed agent call records the turn with an empty response and continues;
// only policy conditions, exhaustion and cancellation end the conversation.
func (d *DialogDriver) Run(ctx context.Context, runID, userID string, node NodeConfig, uc *UserContext) *Conversation {
	conv := &Conversation{
		ID:        fmt.Sprintf("%s/%s/%s", runID, userID, node.NodeID),
		NodeID:    node.NodeID,
		Status:    ConvOngoing,
		StartedAt: time.Now(),
	}

	lastResponse := ""
	for {
		if err := ctx.Err(); err != nil {
			d.finalize(conv, ConvFailed)
			return conv
		}

		state := policy.DialogState{
			Turns:          len(conv.Turns),
			ElapsedSeconds: time.Since(conv.StartedAt).Seconds(),
			LastResponse:   lastResponse,
			HistoryLen:     len(conv.Turns),
			Context:        uc.ExtractedFields,
		}

		// The first turn is always sent; after that the exit policy
		// decides.
		if len(conv.Turns) > 0 && !d.evaluator.ShouldContinue(state, node.Policy.Exit) {
			break
		}

		message := d.evaluator.NextMessage(ctx, state, node.Policy.Message)
		turn := d.sendTurn(ctx, runID, userID, node, uc, message, len(conv.Turns)+1)
		conv.Turns = append(conv.Turns, turn)
		lastResponse = turn.AgentResponse

		// Early exit on task detection takes priority over the
		// remaining turn budget.
		if turn.TaskDetected {
			break
		}
	}

	d.finalize(conv, ConvCompleted)
	return conv
}

func (d *DialogDriver) sendTurn(ctx context.Context, runID, userID string, node NodeConfig, uc *UserContext, message string, turnNumber int) DialogTurn {
	endpoint := node.Endpoint
	if endpoint == "" {
		endpoint = defaultDialogEndpoint
	}

	payload := uc.BuildPayload(node.PayloadTemplate)
	payload["message"] = message

	result := d.caller.Call(ctx, agent.Request{
		Method:   node.Method,
		Endpoint: endpoint,
		Payload:  payload,
		Headers:  uc.Headers(),
	})

	turn := DialogTurn{
		TurnNumber:  turnNumber,
		UserMessage: message,
		DurationMS:  result.DurationMS,
	}

	if result.Success {
		turn.AgentResponse = stringifyResponse(result.Response)
		if d.evaluator.DetectTask(turn.AgentResponse, node.Policy.TaskDetection) {
			turn.TaskDetected = true
			if id, ok := result.Response["task_id"].(string); ok {
				turn.TaskID = id
			}
		}
		uc.ExtractFields(result.Response, node.ExtractionMap)
	}

	uc.DialogHistory = append(uc.DialogHistory,
		fmt.Sprintf("turn %d: %s -> %s", turnNumber, message, turn.AgentResponse))

	d.emitter.Emit(emit.Event{
		Type:       emit.EventTurnCompleted,
		RunID:      runID,
		UserID:     userID,
		NodeID:     node.NodeID,
		DurationMS: result.DurationMS,
		Error:      result.Error,
		Meta: map[string]any{
			"turn_number":   turnNumber,
			"task_detected": turn.TaskDetected,
		},
	})

	return turn
}

// finalize derives the terminal fields by scanning the recorded turns for
// the first task detection.
func (d *DialogDriver) finalize(conv *Conversation, status string) {
	conv.Status = status
	conv.TotalTurns = len(conv.Turns)
	conv.FinishedAt = time.Now()
	conv.DurationMS = float64(conv.FinishedAt.Sub(conv.StartedAt)) / float64(time.Millisecond)
	for _, turn := range conv.Turns {
		if turn.TaskDetected {
			conv.TaskGenerated = true
			conv.TaskID = turn.TaskID
			break
		}
	}
}

func stringifyResponse(response map[string]any) string {
	if response == nil {
		return ""
	}
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Sprintf("%v", response)
	}
	return string(data)
}
