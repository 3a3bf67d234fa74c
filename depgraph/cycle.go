package depgraph

// DependencyCycle is a closed sequence of task ids: the first id is repeated
// at the end, so [A B C A] means A depends on B, B on C and C on A.
type DependencyCycle []string

// CircularDependencyResult is the outcome of cycle detection.
type CircularDependencyResult struct {
	HasCircularDependency bool              `json:"has_circular_dependency"`
	Cycles                []DependencyCycle `json:"cycles"`
	AffectedTasks         []string          `json:"affected_tasks"` // union of cycle members, first-seen order
}

const (
	unvisited uint8 = iota
	onStack
	explored
)

// DetectCycles finds cycles in g with a depth-first search driven by an
// explicit work stack. Roots are tried in insertion order and the search
// keeps going after a cycle is found, so independent cycles are all
// reported. A node that depends on itself yields [id id].
func DetectCycles(g *DependencyGraph) CircularDependencyResult {
	res := CircularDependencyResult{
		Cycles:        []DependencyCycle{},
		AffectedTasks: []string{},
	}
	if g == nil {
		return res
	}

	n := g.Len()
	adj := g.adjacency()
	state := make([]uint8, n)
	depth := make([]int, n) // stack position while onStack

	type frame struct {
		node int
		next int
	}
	stack := make([]frame, 0, n)
	affected := make(map[string]bool)

	push := func(node int) {
		state[node] = onStack
		depth[node] = len(stack)
		stack = append(stack, frame{node: node})
	}

	for root := 0; root < n; root++ {
		if state[root] != unvisited {
			continue
		}
		push(root)
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(adj[top.node]) {
				nb := adj[top.node][top.next]
				top.next++
				switch state[nb] {
				case onStack:
					cycle := make(DependencyCycle, 0, len(stack)-depth[nb]+1)
					for _, f := range stack[depth[nb]:] {
						cycle = append(cycle, g.ids[f.node])
					}
					cycle = append(cycle, g.ids[nb])
					res.Cycles = append(res.Cycles, cycle)
					for _, id := range cycle {
						if !affected[id] {
							affected[id] = true
							res.AffectedTasks = append(res.AffectedTasks, id)
						}
					}
				case unvisited:
					push(nb)
				}
				continue
			}
			// Backtrack: leave the recursion stack but stay explored.
			state[top.node] = explored
			stack = stack[:len(stack)-1]
		}
	}

	res.HasCircularDependency = len(res.Cycles) > 0
	return res
}

// Edge returns the last edge of the cycle, the one that closes the loop,
// as (from, to). ok is false for an empty or malformed cycle.
func (c DependencyCycle) Edge() (from, to string, ok bool) {
	if len(c) < 2 {
		return "", "", false
	}
	return c[len(c)-2], c[len(c)-1], true
}

// Contains reports whether id is part of the cycle.
func (c DependencyCycle) Contains(id string) bool {
	for _, v := range c {
		if v == id {
			return true
		}
	}
	return false
}
