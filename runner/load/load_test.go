package load

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Wshaoqing721/synmatai-test-platform/runner"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
)

const nodesYAML = `
name: checkout
nodes:
  - node_id: start
    node_type: start
  - node_id: create
    node_type: action
    dependencies: [start]
    endpoint: /task
    method: POST
    payload_template:
      goal: "order {context.sku}"
    extraction_map:
      tid: task_id
  - node_id: verify
    node_type: assertion
    dependencies: [create]
    expression: context.tid != ""
  - node_id: end
    node_type: end
    dependencies: [verify]
`

const stepsYAML = `
name: smoke
steps:
  - node_id: ping
    node_type: action
    endpoint: /ping
  - node_id: chat
    node_type: action
    execution_mode: multi_turn_dialog
    endpoint: /chat
    policy:
      exit_condition:
        max_turns: 5
        task_keywords: [task_id]
      message_generation:
        strategy: template
        templates: ["hello", "go on"]
  - node_id: done
    node_type: end
`

func TestFromYAMLNodes(t *testing.T) {
	scenario, err := FromYAML([]byte(nodesYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}

	if scenario.Name != "checkout" {
		t.Errorf("got name %q", scenario.Name)
	}
	if len(scenario.Nodes) != 4 {
		t.Fatalf("got %d nodes, want 4", len(scenario.Nodes))
	}

	create, ok := scenario.Node("create")
	if !ok {
		t.Fatal("node create missing")
	}
	if create.Endpoint != "/task" || create.Method != "POST" {
		t.Errorf("call config not parsed: %+v", create)
	}
	if create.PayloadTemplate["goal"] != "order {context.sku}" {
		t.Errorf("payload template not parsed: %v", create.PayloadTemplate)
	}
	if create.ExtractionMap["tid"] != "task_id" {
		t.Errorf("extraction map not parsed: %v", create.ExtractionMap)
	}

	verify, _ := scenario.Node("verify")
	if verify.Expression != `context.tid != ""` {
		t.Errorf("expression not parsed: %q", verify.Expression)
	}
}

func TestFromYAMLSteps(t *testing.T) {
	scenario, err := FromYAML([]byte(stepsYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}

	// Steps chain into a linear dependency graph.
	order, err := scenario.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	want := []string{"ping", "chat", "done"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}

	chat, _ := scenario.Node("chat")
	if len(chat.Dependencies) != 1 || chat.Dependencies[0] != "ping" {
		t.Errorf("step dependencies not chained: %v", chat.Dependencies)
	}
	if chat.ExecutionMode != runner.ModeMultiTurnDialog {
		t.Errorf("execution mode not parsed: %q", chat.ExecutionMode)
	}
	if chat.Policy.Exit.MaxTurns != 5 {
		t.Errorf("exit policy not parsed: %+v", chat.Policy.Exit)
	}
	if chat.Policy.Message.Strategy != policy.StrategyTemplate || len(chat.Policy.Message.Templates) != 2 {
		t.Errorf("message policy not parsed: %+v", chat.Policy.Message)
	}
}

func TestFromYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"both forms", "name: x\nsteps:\n  - node_id: a\n    node_type: action\nnodes:\n  - node_id: b\n    node_type: action\n"},
		{"empty scenario", "name: x\n"},
		{"unknown node type", "name: x\nnodes:\n  - node_id: a\n    node_type: teleport\n"},
		{"unknown dependency", "name: x\nnodes:\n  - node_id: a\n    node_type: action\n    dependencies: [ghost]\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseYAMLRunDefaults(t *testing.T) {
	file, err := ParseYAML([]byte("name: x\nnum_users: 25\nconcurrency: 5\nnodes:\n  - node_id: a\n    node_type: action\n"))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if file.NumUsers != 25 || file.Concurrency != 5 {
		t.Errorf("defaults not parsed: %+v", file)
	}

	file, err = ParseYAML([]byte("name: x\nnodes:\n  - node_id: a\n    node_type: action\n"))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if file.NumUsers != 0 || file.Concurrency != 0 {
		t.Errorf("unset defaults must stay zero: %+v", file)
	}
}

func TestFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(nodesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	scenario, err := FromYAMLFile(path)
	if err != nil {
		t.Fatalf("FromYAMLFile: %v", err)
	}
	if scenario.Name != "checkout" {
		t.Errorf("got name %q", scenario.Name)
	}

	if _, err := FromYAMLFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

const checkoutDOT = `digraph checkout {
  start  [type="start"]
  create [type="action" endpoint="/task" method="POST"]
  chat   [type="action" mode="multi_turn_dialog" endpoint="/chat"]
  gate   [type="condition" expression="context.premium == true"]
  end    [type="end"]
  start -> create
  create -> chat
  create -> gate
  chat -> end
  gate -> end
}`

func TestFromDOT(t *testing.T) {
	scenario, err := FromDOT(checkoutDOT)
	if err != nil {
		t.Fatalf("FromDOT: %v", err)
	}

	if scenario.Name != "checkout" {
		t.Errorf("got name %q", scenario.Name)
	}
	if len(scenario.Nodes) != 5 {
		t.Fatalf("got %d nodes, want 5", len(scenario.Nodes))
	}

	create, _ := scenario.Node("create")
	if create.NodeType != runner.NodeAction || create.Endpoint != "/task" || create.Method != "POST" {
		t.Errorf("node attributes not parsed: %+v", create)
	}

	chat, _ := scenario.Node("chat")
	if chat.ExecutionMode != runner.ModeMultiTurnDialog {
		t.Errorf("mode attribute not parsed: %q", chat.ExecutionMode)
	}

	gate, _ := scenario.Node("gate")
	if gate.NodeType != runner.NodeCondition || gate.Expression != "context.premium == true" {
		t.Errorf("condition attributes not parsed: %+v", gate)
	}

	end, _ := scenario.Node("end")
	if len(end.Dependencies) != 2 {
		t.Errorf("edges not mapped to dependencies: %v", end.Dependencies)
	}

	if _, err := scenario.TopoSort(); err != nil {
		t.Errorf("TopoSort: %v", err)
	}
}

func TestFromDOTDefaultsToAction(t *testing.T) {
	scenario, err := FromDOT(`digraph g { a [endpoint="/a"] }`)
	if err != nil {
		t.Fatalf("FromDOT: %v", err)
	}
	a, _ := scenario.Node("a")
	if a.NodeType != runner.NodeAction {
		t.Errorf("got type %q, want action default", a.NodeType)
	}
}

func TestFromDOTErrors(t *testing.T) {
	tests := []struct {
		name string
		dot  string
	}{
		{"not dot", "this is not dot"},
		{"cycle", `digraph g { a -> b; b -> a }`},
		{"bad node type", `digraph g { a [type="teleport"] }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromDOT(tt.dot); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDOTRoundTrip(t *testing.T) {
	original, err := FromDOT(checkoutDOT)
	if err != nil {
		t.Fatalf("FromDOT: %v", err)
	}

	dot, err := ToDOT(original)
	if err != nil {
		t.Fatalf("ToDOT: %v", err)
	}
	if !strings.Contains(dot, "digraph") {
		t.Fatalf("output is not a digraph:\n%s", dot)
	}

	parsed, err := FromDOT(dot)
	if err != nil {
		t.Fatalf("FromDOT(ToDOT(...)): %v\n%s", err, dot)
	}
	if len(parsed.Nodes) != len(original.Nodes) {
		t.Fatalf("round trip lost nodes: %d vs %d", len(parsed.Nodes), len(original.Nodes))
	}
	for _, want := range original.Nodes {
		got, ok := parsed.Node(want.NodeID)
		if !ok {
			t.Fatalf("round trip lost node %q", want.NodeID)
		}
		if got.NodeType != want.NodeType || got.Endpoint != want.Endpoint || got.Expression != want.Expression {
			t.Errorf("node %q changed: got %+v, want %+v", want.NodeID, got, want)
		}
		if len(got.Dependencies) != len(want.Dependencies) {
			t.Errorf("node %q dependencies changed: %v vs %v", want.NodeID, got.Dependencies, want.Dependencies)
		}
	}
}
