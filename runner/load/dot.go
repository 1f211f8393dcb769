package load

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/Wshaoqing721/synmatai-test-platform/runner"
)

// DOT node attributes understood by the loader. Anything else on a node is
// ignored so scenarios can carry layout attributes for rendering.
const (
	attrType       = "type"
	attrMode       = "mode"
	attrEndpoint   = "endpoint"
	attrMethod     = "method"
	attrExpression = "expression"
	attrLabel      = "label"
)

// FromDOT parses a scenario from a Graphviz DOT digraph.
//
// Each DOT node becomes a scenario node; an edge a -> b makes b depend on a.
// Node metadata rides on attributes:
//
//	digraph checkout {
//	  start    [type="start"]
//	  create   [type="action" endpoint="/task" method="POST"]
//	  verify   [type="assertion" expression="context.total > 0"]
//	  end      [type="end"]
//	  start -> create
//	  create -> verify
//	  verify -> end
//	}
//
// A node without a type attribute defaults to an action node.
func FromDOT(dot string) (*runner.Scenario, error) {
	ast, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}

	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}

	scenario := &runner.Scenario{Name: unquote(g.Name)}
	index := make(map[string]int)

	for _, n := range g.Nodes.Nodes {
		id := unquote(n.Name)
		node := runner.NodeConfig{
			NodeID:     id,
			NodeName:   getAttr(n.Attrs, attrLabel),
			NodeType:   getAttr(n.Attrs, attrType),
			Endpoint:   getAttr(n.Attrs, attrEndpoint),
			Method:     getAttr(n.Attrs, attrMethod),
			Expression: getAttr(n.Attrs, attrExpression),
		}
		if node.NodeType == "" {
			node.NodeType = runner.NodeAction
		}
		if mode := getAttr(n.Attrs, attrMode); mode != "" {
			node.ExecutionMode = mode
		}
		index[id] = len(scenario.Nodes)
		scenario.Nodes = append(scenario.Nodes, node)
	}

	for _, e := range g.Edges.Edges {
		src := unquote(e.Src)
		dst := unquote(e.Dst)
		i, ok := index[dst]
		if !ok {
			return nil, fmt.Errorf("edge references unknown node %q", dst)
		}
		if _, ok := index[src]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", src)
		}
		scenario.Nodes[i].Dependencies = append(scenario.Nodes[i].Dependencies, src)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", scenario.Name, err)
	}
	return scenario, nil
}

// ToDOT renders a scenario back into a DOT digraph that FromDOT accepts.
func ToDOT(scenario *runner.Scenario) (string, error) {
	g := gographviz.NewGraph()
	name := scenario.Name
	if name == "" {
		name = "scenario"
	}
	name = strconv.Quote(name)
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	for _, n := range scenario.Nodes {
		attrs := map[string]string{attrType: strconv.Quote(n.NodeType)}
		if n.NodeName != "" {
			attrs[attrLabel] = strconv.Quote(n.NodeName)
		}
		if n.ExecutionMode != "" {
			attrs[attrMode] = strconv.Quote(n.ExecutionMode)
		}
		if n.Endpoint != "" {
			attrs[attrEndpoint] = strconv.Quote(n.Endpoint)
		}
		if n.Method != "" {
			attrs[attrMethod] = strconv.Quote(n.Method)
		}
		if n.Expression != "" {
			attrs[attrExpression] = strconv.Quote(n.Expression)
		}
		if err := g.AddNode(name, strconv.Quote(n.NodeID), attrs); err != nil {
			return "", fmt.Errorf("failed to add node %q: %w", n.NodeID, err)
		}
	}

	for _, n := range scenario.Nodes {
		for _, dep := range n.Dependencies {
			if err := g.AddEdge(strconv.Quote(dep), strconv.Quote(n.NodeID), true, nil); err != nil {
				return "", fmt.Errorf("failed to add edge %s -> %s: %w", dep, n.NodeID, err)
			}
		}
	}

	return g.String(), nil
}

// getAttr reads a node attribute, stripping the surrounding quotes that
// Graphviz keeps on string values.
func getAttr(attrs gographviz.Attrs, key string) string {
	val, ok := attrs[gographviz.Attr(key)]
	if !ok {
		return ""
	}
	return unquote(strings.TrimSpace(val))
}

func unquote(val string) string {
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		return val[1 : len(val)-1]
	}
	return val
}
