package graph

import (
	"fmt"
	"sync"
)

// GraphBuilder accumulates nodes and edges and produces a validated Graph.
//
// AddNode and AddEdge fail fast; Build checks the structural invariants.
// Build does not consume the builder: calling it again without further
// mutation yields a structurally equal Graph.
//
// Example:
//
//	b := graph.NewBuilder()
//	_ = b.AddNode(graph.NewNode("writer", writer))
//	_ = b.AddNode(graph.NewNode("editor", editor))
//	_ = b.AddEdge("writer", "editor", graph.WithFilter(graph.Filter{
//	    Rules: map[string]graph.Rule{"writer": graph.Last(1)},
//	}))
//	g, err := b.Build()
type GraphBuilder struct {
	mu    sync.Mutex
	nodes []Node
	index map[string]int
	edges []Edge
	pairs map[[2]string]struct{}
}

// NewBuilder returns an empty GraphBuilder.
func NewBuilder() *GraphBuilder {
	return &GraphBuilder{
		index: make(map[string]int),
		pairs: make(map[[2]string]struct{}),
	}
}

// AddNode registers a node.
//
// Returns a *DuplicateNodeError if the name is already registered, or an
// *EngineError if the name is empty, reserved, or the node has no capability.
func (b *GraphBuilder) AddNode(n Node) error {
	if n.name == "" {
		return &EngineError{Message: "node name cannot be empty", Code: "EMPTY_NODE_ID"}
	}
	if n.name == UserSource {
		return &EngineError{
			Message: fmt.Sprintf("node name %q is reserved for task messages", UserSource),
			Code:    "RESERVED_NODE_ID",
		}
	}
	if !n.hasCapability() {
		return &EngineError{
			Message: fmt.Sprintf("node %q has no %s capability", n.name, n.kind),
			Code:    "NIL_WORKER",
		}
	}
	if err := n.filter.Validate(); err != nil {
		return &EngineError{
			Message: fmt.Sprintf("node %q: %v", n.name, err),
			Code:    "INVALID_FILTER",
		}
	}
	if n.policy != nil && n.policy.RetryPolicy != nil {
		if err := n.policy.RetryPolicy.Validate(); err != nil {
			return &EngineError{
				Message: fmt.Sprintf("node %q: %v", n.name, err),
				Code:    "INVALID_POLICY",
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[n.name]; exists {
		return &DuplicateNodeError{Node: n.name}
	}
	n.filter = n.filter.clone()
	b.index[n.name] = len(b.nodes)
	b.nodes = append(b.nodes, n)
	return nil
}

// AddEdge connects two registered nodes.
//
// Returns an *UnknownNodeError if either endpoint was not added first, or an
// *EngineError for duplicate edges and invalid filters.
func (b *GraphBuilder) AddEdge(from, to string, opts ...EdgeOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[from]; !ok {
		return &UnknownNodeError{Node: from}
	}
	if _, ok := b.index[to]; !ok {
		return &UnknownNodeError{Node: to}
	}

	key := [2]string{from, to}
	if _, exists := b.pairs[key]; exists {
		return &EngineError{
			Message: fmt.Sprintf("edge %s -> %s already exists", from, to),
			Code:    "DUPLICATE_EDGE",
		}
	}

	e := Edge{From: from, To: to}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.Filter.Validate(); err != nil {
		return &EngineError{
			Message: fmt.Sprintf("edge %s -> %s: %v", from, to, err),
			Code:    "INVALID_FILTER",
		}
	}

	e.Filter = e.Filter.clone()
	e.index = len(b.edges)
	b.pairs[key] = struct{}{}
	b.edges = append(b.edges, e)
	return nil
}

// Build validates the accumulated nodes and edges and returns an immutable
// Graph.
//
// Validation, in order:
//   - at least one node
//   - no isolated node unless it is the only node
//   - at least one entry and one terminal
//   - every node reachable from some entry
//   - every terminal reachable from every entry
func (b *GraphBuilder) Build() (*Graph, error) {
	b.mu.Lock()
	nodes := make([]Node, len(b.nodes))
	copy(nodes, b.nodes)
	edges := make([]Edge, len(b.edges))
	copy(edges, b.edges)
	b.mu.Unlock()

	if len(nodes) == 0 {
		return nil, &EngineError{Message: "graph has no nodes", Code: "EMPTY_GRAPH"}
	}

	g := &Graph{
		nodes:      nodes,
		index:      make(map[string]int, len(nodes)),
		edges:      edges,
		out:        make([][]int, len(nodes)),
		in:         make([][]int, len(nodes)),
		isEntry:    make([]bool, len(nodes)),
		isTerminal: make([]bool, len(nodes)),
	}
	for i, n := range nodes {
		g.index[n.name] = i
	}
	for i, e := range edges {
		from, to := g.index[e.From], g.index[e.To]
		g.out[from] = append(g.out[from], i)
		g.in[to] = append(g.in[to], i)
	}

	if len(nodes) > 1 {
		for i, n := range nodes {
			if len(g.in[i]) == 0 && len(g.out[i]) == 0 {
				return nil, &DisconnectedGraphError{Node: n.name, Reason: "is isolated"}
			}
		}
	}

	for i, n := range nodes {
		if n.role == RoleEntry || len(g.in[i]) == 0 {
			g.isEntry[i] = true
			g.entries = append(g.entries, i)
		}
		if n.role == RoleTerminal || len(g.out[i]) == 0 {
			g.isTerminal[i] = true
			g.terminals = append(g.terminals, i)
		}
	}
	if len(g.entries) == 0 {
		return nil, &EngineError{
			Message: "graph has no entry node (mark one with AsEntry)",
			Code:    "NO_ENTRY_NODE",
		}
	}
	if len(g.terminals) == 0 {
		return nil, &EngineError{
			Message: "graph has no terminal node (mark one with AsTerminal)",
			Code:    "NO_TERMINAL_NODE",
		}
	}

	reached := make([]bool, len(nodes))
	for _, entry := range g.entries {
		for i, ok := range g.reachableFrom(entry) {
			if ok {
				reached[i] = true
			}
		}
	}
	for i, ok := range reached {
		if !ok {
			return nil, &DisconnectedGraphError{
				Node:   nodes[i].name,
				Reason: "is not reachable from any entry node",
			}
		}
	}

	for _, entry := range g.entries {
		seen := g.reachableFrom(entry)
		for _, term := range g.terminals {
			if !seen[term] {
				return nil, &UnreachableTerminalError{
					Terminal: nodes[term].name,
					Entry:    nodes[entry].name,
				}
			}
		}
	}

	g.classifyCycleEdges()
	g.markTerminalFeeders()
	return g, nil
}

// Chain builds a sequential graph n1 -> n2 -> ... -> nk. The first node is the
// entry and the last the terminal.
func Chain(nodes ...Node) (*Graph, error) {
	b := NewBuilder()
	for _, n := range nodes {
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}
	for i := 1; i < len(nodes); i++ {
		if err := b.AddEdge(nodes[i-1].name, nodes[i].name); err != nil {
			return nil, err
		}
	}
	return b.Build()
}
