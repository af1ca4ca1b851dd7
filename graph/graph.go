package graph

// Graph is an immutable, validated set of nodes and edges. A Graph is built
// once and shared by any number of runs.
type Graph struct {
	nodes      []Node
	index      map[string]int
	edges      []Edge
	out        [][]int // node position -> outgoing edge indices, registration order
	in         [][]int // node position -> incoming edge indices, registration order
	entries    []int
	terminals  []int
	isEntry    []bool
	isTerminal []bool

	// feedsTerminal marks nodes that reach a terminal over forward edges,
	// terminals included.
	feedsTerminal []bool
}

// Nodes returns the node names in registration order.
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.name
	}
	return names
}

// Node returns the node registered under name.
func (g *Graph) Node(name string) (Node, bool) {
	i, ok := g.index[name]
	if !ok {
		return Node{}, false
	}
	n := g.nodes[i]
	n.filter = n.filter.clone()
	return n, true
}

// Contains reports whether name is a node of the graph.
func (g *Graph) Contains(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Edges returns a copy of the edges in registration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		e.Filter = e.Filter.clone()
		out[i] = e
	}
	return out
}

// Entries returns the entry node names in registration order.
func (g *Graph) Entries() []string {
	return g.names(g.entries)
}

// Terminals returns the terminal node names in registration order.
func (g *Graph) Terminals() []string {
	return g.names(g.terminals)
}

// Successors returns the targets of name's outgoing edges in edge order.
func (g *Graph) Successors(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(g.out[i]))
	for k, ei := range g.out[i] {
		out[k] = g.edges[ei].To
	}
	return out
}

// InDegree returns the number of distinct predecessors whose forward edges
// must deliver before name becomes ready. Cycle edges are not counted.
func (g *Graph) InDegree(name string) int {
	i, ok := g.index[name]
	if !ok {
		return 0
	}
	count := 0
	for _, ei := range g.in[i] {
		if !g.edges[ei].cycle {
			count++
		}
	}
	return count
}

// CycleEdges returns the edges classified as cycle edges.
func (g *Graph) CycleEdges() []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.cycle {
			e.Filter = e.Filter.clone()
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) names(positions []int) []string {
	out := make([]string, len(positions))
	for k, p := range positions {
		out[k] = g.nodes[p].name
	}
	return out
}

// reachableFrom marks every node reachable from start, start included.
func (g *Graph) reachableFrom(start int) []bool {
	seen := make([]bool, len(g.nodes))
	seen[start] = true
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ei := range g.out[cur] {
			next := g.index[g.edges[ei].To]
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// markTerminalFeeders walks forward edges backwards from every terminal.
// It runs after classifyCycleEdges.
func (g *Graph) markTerminalFeeders() {
	g.feedsTerminal = make([]bool, len(g.nodes))
	queue := make([]int, 0, len(g.terminals))
	for _, t := range g.terminals {
		g.feedsTerminal[t] = true
		queue = append(queue, t)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ei := range g.in[cur] {
			e := g.edges[ei]
			if e.cycle {
				continue
			}
			prev := g.index[e.From]
			if !g.feedsTerminal[prev] {
				g.feedsTerminal[prev] = true
				queue = append(queue, prev)
			}
		}
	}
}

// classifyCycleEdges marks back edges found by a depth-first search from the
// entry nodes in registration order, following edges in registration order.
func (g *Graph) classifyCycleEdges() {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))

	type frame struct {
		node int
		next int
	}

	for _, root := range g.entries {
		if color[root] != white {
			continue
		}
		stack := []frame{{node: root}}
		color[root] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(g.out[top.node]) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			ei := g.out[top.node][top.next]
			top.next++

			target := g.index[g.edges[ei].To]
			switch color[target] {
			case white:
				color[target] = gray
				stack = append(stack, frame{node: target})
			case gray:
				g.edges[ei].cycle = true
			}
		}
	}
}
