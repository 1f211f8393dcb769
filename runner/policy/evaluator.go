package policy

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/model"
)

// DefaultContinueMessage is sent when no better message can be produced,
// such as an empty template list or a failed AI generation.
const DefaultContinueMessage = "Please continue."

// defaultAITimeout bounds a single AI message generation call.
const defaultAITimeout = 30 * time.Second

// DialogState is a read-only snapshot of one conversation, the input to
// every policy decision.
type DialogState struct {
	// Turns is the number of completed dialog turns.
	Turns int

	// ElapsedSeconds is the wall-clock age of the conversation.
	ElapsedSeconds float64

	// LastResponse is the stringified agent response of the latest turn,
	// empty before the first turn completes.
	LastResponse string

	// HistoryLen is the number of messages the virtual user has sent.
	HistoryLen int

	// Context holds the user's extracted fields.
	Context map[string]any
}

// Evaluator applies exit, task-detection and message policies to dialog
// state snapshots. Safe for concurrent use.
type Evaluator struct {
	chat      model.ChatModel
	aiTimeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEvaluator creates an Evaluator. The chat model may be nil when no node
// uses the ai_generated strategy; such nodes then fall back to
// DefaultContinueMessage.
func NewEvaluator(chat model.ChatModel) *Evaluator {
	return &Evaluator{
		chat:      chat,
		aiTimeout: defaultAITimeout,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShouldContinue reports whether the dialog loop should run another turn.
//
// It returns false (stop) when any exit condition holds:
//   - the turn count reached MaxTurns
//   - the elapsed time exceeded TimeoutSeconds
//   - a task keyword or the task regex matched the last response
//   - the custom predicate evaluated false
//
// A custom predicate that fails to evaluate also stops the dialog, and a
// zero MaxTurns or TimeoutSeconds falls back to the package default. Both
// rules serve the same end: no configuration can produce an unbounded
// conversation.
func (e *Evaluator) ShouldContinue(state DialogState, policy ExitPolicy) bool {
	maxTurns := policy.MaxTurns
	if maxTurns == 0 {
		maxTurns = DefaultMaxTurns
	}
	if state.Turns >= int(maxTurns) {
		return false
	}

	timeout := policy.TimeoutSeconds
	if timeout == 0 {
		timeout = DefaultTimeoutSeconds
	}
	if state.ElapsedSeconds > float64(timeout) {
		return false
	}
	if matchKeywords(state.LastResponse, policy.TaskKeywords) {
		return false
	}
	if policy.TaskRegex != "" && matchRegex(state.LastResponse, policy.TaskRegex) {
		return false
	}
	if policy.CustomPredicate != "" {
		ok, err := EvalPredicate(policy.CustomPredicate, map[string]any{
			"response":     state.LastResponse,
			"turns":        state.Turns,
			"elapsed_time": state.ElapsedSeconds,
			"context":      state.Context,
		})
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// DetectTask reports whether the agent response signals task completion
// under the given detection policy. It never returns an error: invalid
// patterns and failing predicates count as no detection.
func (e *Evaluator) DetectTask(response string, policy TaskDetectionPolicy) bool {
	switch policy.Mode {
	case DetectKeyword:
		return matchKeywords(response, policy.Keywords)
	case DetectRegex:
		if policy.Regex == "" {
			return false
		}
		return matchRegex(response, policy.Regex)
	case DetectCustom:
		if policy.CustomPredicate == "" {
			return false
		}
		ok, err := EvalPredicate(policy.CustomPredicate, map[string]any{
			"response": response,
		})
		return err == nil && ok
	default:
		return false
	}
}

// NextMessage produces the virtual user's next message. It never fails:
// strategies that cannot produce a message fall back to
// DefaultContinueMessage.
func (e *Evaluator) NextMessage(ctx context.Context, state DialogState, policy MessagePolicy) string {
	switch policy.Strategy {
	case StrategyRandom:
		if len(policy.RandomChoices) == 0 {
			return DefaultContinueMessage
		}
		e.mu.Lock()
		idx := e.rng.Intn(len(policy.RandomChoices))
		e.mu.Unlock()
		return policy.RandomChoices[idx]

	case StrategyAIGenerated:
		return e.generateMessage(ctx, state, policy)

	default:
		// Template is both the named and the fallback strategy. The
		// cycle position is the count of messages already sent, so a
		// fresh conversation starts at the first template.
		if len(policy.Templates) == 0 {
			return DefaultContinueMessage
		}
		return policy.Templates[state.HistoryLen%len(policy.Templates)]
	}
}

func (e *Evaluator) generateMessage(ctx context.Context, state DialogState, policy MessagePolicy) string {
	if e.chat == nil {
		return DefaultContinueMessage
	}

	ctx, cancel := context.WithTimeout(ctx, e.aiTimeout)
	defer cancel()

	system := policy.AIPromptTemplate
	if system == "" {
		system = "You are a user talking to a customer-facing assistant. " +
			"Reply with the single short message the user would send next. " +
			"Do not explain or add commentary."
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: fmt.Sprintf(
			"The assistant's last reply was:\n%s\n\nWrite the user's next message.",
			state.LastResponse)},
	}

	out, err := e.chat.Chat(ctx, messages)
	if err != nil || strings.TrimSpace(out.Text) == "" {
		return DefaultContinueMessage
	}
	return strings.TrimSpace(out.Text)
}

func matchKeywords(response string, keywords []string) bool {
	if response == "" || len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(response)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func matchRegex(response, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(response)
}
