package runner

import (
	"fmt"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
)

// Node types.
const (
	NodeStart     = "start"
	NodeAction    = "action"
	NodeAssertion = "assertion"
	NodeCondition = "condition"
	NodeEnd       = "end"
)

// Execution modes. Single-call is the default; multi-turn dialog hands the
// node to the dialog driver. Polling and conditional are accepted in
// configuration and currently execute as single calls.
const (
	ModeSingleCall      = "single_call"
	ModeMultiTurnDialog = "multi_turn_dialog"
	ModePolling         = "polling"
	ModeConditional     = "conditional"
)

// NodeConfig describes one node of a scenario graph.
type NodeConfig struct {
	// NodeID is unique within the scenario and stable across runs.
	NodeID string `yaml:"node_id" json:"node_id"`

	// NodeName is the display name, defaulting to NodeID.
	NodeName string `yaml:"node_name" json:"node_name"`

	// NodeType is one of the Node* constants.
	NodeType string `yaml:"node_type" json:"node_type"`

	// ExecutionMode is one of the Mode* constants. Empty means
	// ModeSingleCall.
	ExecutionMode string `yaml:"execution_mode" json:"execution_mode"`

	// Dependencies lists node IDs that must finish before this node runs.
	// A node with no dependencies is a graph root.
	Dependencies []string `yaml:"dependencies" json:"dependencies"`

	// Endpoint and Method configure the agent call for action nodes.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Method   string `yaml:"method" json:"method"`

	// PayloadTemplate is the request body for action nodes. String values
	// may carry {field} or {context.field} placeholders, substituted from
	// the user's extracted fields.
	PayloadTemplate map[string]any `yaml:"payload_template" json:"payload_template"`

	// ExtractionMap maps extracted-field names to dot paths into the
	// agent response, e.g. {"tid": "data.task_id"}.
	ExtractionMap map[string]string `yaml:"extraction_map" json:"extraction_map"`

	// Expression is the boolean predicate of assertion and condition
	// nodes, evaluated against the binding context.
	Expression string `yaml:"expression" json:"expression"`

	// Policy bundles the dialog policies for multi-turn nodes.
	Policy policy.NodePolicy `yaml:"policy" json:"policy"`
}

// Name returns the node's display name.
func (n NodeConfig) Name() string {
	if n.NodeName != "" {
		return n.NodeName
	}
	return n.NodeID
}

// Scenario is a named, immutable directed graph of nodes. The graph must be
// acyclic; Validate and TopoSort enforce this before any execution.
type Scenario struct {
	Name  string       `yaml:"name" json:"name"`
	Nodes []NodeConfig `yaml:"nodes" json:"nodes"`
}

// Node returns the config for a node ID.
func (s *Scenario) Node(id string) (NodeConfig, bool) {
	for _, n := range s.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// Validate checks structural invariants: non-empty unique node IDs, known
// node types, dependencies referencing existing nodes, and acyclicity.
func (s *Scenario) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("scenario %q has no nodes", s.Name)
	}

	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("scenario %q contains a node without an id", s.Name)
		}
		if seen[n.NodeID] {
			return fmt.Errorf("duplicate node id %q", n.NodeID)
		}
		seen[n.NodeID] = true

		switch n.NodeType {
		case NodeStart, NodeAction, NodeAssertion, NodeCondition, NodeEnd:
		default:
			return fmt.Errorf("node %q has unknown type %q", n.NodeID, n.NodeType)
		}
	}

	for _, n := range s.Nodes {
		for _, dep := range n.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("node %q depends on unknown node %q", n.NodeID, dep)
			}
			if dep == n.NodeID {
				return fmt.Errorf("node %q depends on itself", n.NodeID)
			}
		}
	}

	if _, err := s.TopoSort(); err != nil {
		return err
	}
	return nil
}

// TopoSort returns the node IDs in dependency order using Kahn's algorithm.
//
// Ties are broken by declaration order, so the result is deterministic for a
// given scenario. Returns ErrCycle when the order cannot cover every node.
func (s *Scenario) TopoSort() ([]string, error) {
	inDegree := make(map[string]int, len(s.Nodes))
	dependents := make(map[string][]string, len(s.Nodes))

	for _, n := range s.Nodes {
		inDegree[n.NodeID] = len(n.Dependencies)
		for _, dep := range n.Dependencies {
			dependents[dep] = append(dependents[dep], n.NodeID)
		}
	}

	var queue []string
	for _, n := range s.Nodes {
		if inDegree[n.NodeID] == 0 {
			queue = append(queue, n.NodeID)
		}
	}

	order := make([]string, 0, len(s.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(s.Nodes) {
		return nil, fmt.Errorf("%w (resolved %d of %d nodes)", ErrCycle, len(order), len(s.Nodes))
	}
	return order, nil
}

// LinearScenario builds a scenario whose dependency graph is a simple
// chain: each step depends on the previous one. This is the declarative
// step-list form; it shares the DAG executor with full graphs.
func LinearScenario(name string, steps []NodeConfig) Scenario {
	nodes := make([]NodeConfig, len(steps))
	for i, step := range steps {
		node := step
		if i == 0 {
			node.Dependencies = nil
		} else {
			node.Dependencies = []string{steps[i-1].NodeID}
		}
		nodes[i] = node
	}
	return Scenario{Name: name, Nodes: nodes}
}
