// Package depgraph is the dependency orchestration core: it models tasks as
// nodes of a dependency graph, rejects cycles before they are committed,
// decides which tasks are ready, explains why a task is blocked, and
// produces whole-list analytics.
//
// Every operation works on a snapshot materialized for that call; nothing
// is cached between calls.
package depgraph

import "sort"

// Node is a lightweight graph node: a task id and the ids it depends on.
type Node struct {
	ID           string   `json:"id"`
	Dependencies []string `json:"dependencies"`
}

// DependencyGraph is an insertion-ordered set of nodes with their outgoing
// dependency edges. Edges may point at ids that are not nodes; such edges
// are ignored by cycle detection.
type DependencyGraph struct {
	ids   []string
	index map[string]int
	edges [][]string
}

// NewGraph returns an empty graph.
func NewGraph() *DependencyGraph {
	return &DependencyGraph{index: make(map[string]int)}
}

// GraphFromEdges builds a graph from an id -> dependencies map. Nodes are
// added in the order given by order; keys of edges missing from order are
// appended afterwards in sorted order.
func GraphFromEdges(order []string, edges map[string][]string) *DependencyGraph {
	g := NewGraph()
	for _, id := range order {
		g.AddNode(id, edges[id])
	}
	var rest []string
	for id := range edges {
		if !g.Has(id) {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		g.AddNode(id, edges[id])
	}
	return g
}

// AddNode inserts a node, or replaces the dependencies of an existing node
// without changing its position.
func (g *DependencyGraph) AddNode(id string, deps []string) {
	cp := append([]string(nil), deps...)
	if i, ok := g.index[id]; ok {
		g.edges[i] = cp
		return
	}
	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.edges = append(g.edges, cp)
}

// Has reports whether id is a node of the graph.
func (g *DependencyGraph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.ids) }

// IDs returns node ids in insertion order.
func (g *DependencyGraph) IDs() []string {
	return append([]string(nil), g.ids...)
}

// Edges returns the dependency ids of a node, or nil if id is not a node.
func (g *DependencyGraph) Edges(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return append([]string(nil), g.edges[i]...)
}

// Nodes returns all nodes in insertion order.
func (g *DependencyGraph) Nodes() []Node {
	nodes := make([]Node, len(g.ids))
	for i, id := range g.ids {
		nodes[i] = Node{ID: id, Dependencies: append([]string(nil), g.edges[i]...)}
	}
	return nodes
}

// adjacency interns edges to node indices. Dangling edges are dropped.
func (g *DependencyGraph) adjacency() [][]int {
	adj := make([][]int, len(g.ids))
	for i, deps := range g.edges {
		for _, d := range deps {
			if j, ok := g.index[d]; ok {
				adj[i] = append(adj[i], j)
			}
		}
	}
	return adj
}
