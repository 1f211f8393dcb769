// Package policy evaluates the small rule set that governs multi-turn
// dialogs: when a conversation should stop, whether the agent under test has
// completed its task, and what the virtual user says next.
//
// Evaluation is pure with respect to the policies themselves. Policy values
// are loaded once per scenario and must be treated as read-only while a run
// is in flight.
package policy

// Bounds applied when an ExitPolicy leaves the corresponding field zero.
// There is no unbounded configuration: a dialog node with an empty exit
// policy still stops after DefaultMaxTurns turns or DefaultTimeoutSeconds
// seconds, whichever comes first.
const (
	DefaultMaxTurns       uint = 10
	DefaultTimeoutSeconds uint = 300
)

// ExitPolicy defines when a dialog loop stops.
//
// Any satisfied condition stops the dialog.
type ExitPolicy struct {
	// MaxTurns is the maximum number of dialog turns. Zero falls back to
	// DefaultMaxTurns.
	MaxTurns uint `yaml:"max_turns" json:"max_turns"`

	// TimeoutSeconds bounds the wall-clock duration of the dialog. Zero
	// falls back to DefaultTimeoutSeconds.
	TimeoutSeconds uint `yaml:"timeout_seconds" json:"timeout_seconds"`

	// TaskKeywords stop the dialog when any keyword appears in the last
	// agent response. Matching is case-insensitive substring search.
	TaskKeywords []string `yaml:"task_keywords" json:"task_keywords"`

	// TaskRegex stops the dialog when the pattern matches the last agent
	// response. An invalid pattern never matches.
	TaskRegex string `yaml:"task_regex" json:"task_regex"`

	// CustomPredicate is a restricted boolean expression evaluated against
	// the bindings response, turns, elapsed_time and context. The dialog
	// stops when it evaluates false or fails to evaluate.
	CustomPredicate string `yaml:"custom_predicate" json:"custom_predicate"`
}

// Message generation strategies.
const (
	StrategyTemplate    = "template"
	StrategyAIGenerated = "ai_generated"
	StrategyRandom      = "random"
)

// MessagePolicy defines how the virtual user produces its next message.
type MessagePolicy struct {
	// Strategy selects the generation mode. Use the Strategy* constants.
	// An empty or unknown strategy behaves like StrategyTemplate.
	Strategy string `yaml:"strategy" json:"strategy"`

	// Templates are cycled in order for StrategyTemplate.
	Templates []string `yaml:"templates" json:"templates"`

	// RandomChoices are drawn uniformly for StrategyRandom.
	RandomChoices []string `yaml:"random_choices" json:"random_choices"`

	// AIModel names the chat model for StrategyAIGenerated.
	AIModel string `yaml:"ai_model" json:"ai_model"`

	// AIPromptTemplate is the system prompt steering the generated user
	// message. Empty uses a built-in prompt.
	AIPromptTemplate string `yaml:"ai_prompt_template" json:"ai_prompt_template"`

	// Temperature is passed through to the chat model where supported.
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// Task detection modes.
const (
	DetectKeyword = "keyword"
	DetectRegex   = "regex"
	DetectCustom  = "custom"
)

// TaskDetectionPolicy defines the per-turn predicate marking an agent
// response as task completion.
type TaskDetectionPolicy struct {
	// Mode selects the detection predicate. Use the Detect* constants.
	// An empty or unknown mode never detects.
	Mode string `yaml:"mode" json:"mode"`

	// Keywords for DetectKeyword, matched case-insensitively as
	// substrings.
	Keywords []string `yaml:"keywords" json:"keywords"`

	// Regex for DetectRegex. An invalid pattern never matches.
	Regex string `yaml:"regex" json:"regex"`

	// CustomPredicate for DetectCustom, evaluated against the single
	// binding response. Any evaluation error counts as no detection.
	CustomPredicate string `yaml:"custom_predicate" json:"custom_predicate"`
}

// NodePolicy bundles the three policy kinds attached to one node.
type NodePolicy struct {
	Exit          ExitPolicy          `yaml:"exit_condition" json:"exit_condition"`
	Message       MessagePolicy       `yaml:"message_generation" json:"message_generation"`
	TaskDetection TaskDetectionPolicy `yaml:"task_detection" json:"task_detection"`
}
