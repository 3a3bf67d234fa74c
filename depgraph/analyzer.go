package depgraph

import (
	"sort"

	"github.com/GoCodeAlone/cairn/task"
)

const (
	bottleneckMinDependents = 3
	maxBottlenecks          = 5
)

// DependencyChain is the per-task entry of an analysis.
type DependencyChain struct {
	TaskID       string   `json:"task_id"`
	Depth        int      `json:"depth"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// DependencyAnalysis summarizes the dependency structure of a list.
type DependencyAnalysis struct {
	TotalTasks           int               `json:"total_tasks"`
	ReadyTasks           int               `json:"ready_tasks"`
	BlockedTasks         int               `json:"blocked_tasks"`
	CompletedTasks       int               `json:"completed_tasks"`
	DependencyChains     []DependencyChain `json:"dependency_chains"`
	// CriticalPath may end with the id of a dependency outside the list.
	CriticalPath         []string          `json:"critical_path"`
	PotentialBottlenecks []string          `json:"potential_bottlenecks"`
}

// Analyze computes whole-list analytics over a task snapshot.
//
// BlockedTasks is derived as total - completed - ready, so blocked and
// cancelled tasks count as blocked. Depth is 0 for a task without
// dependencies and 1 + the deepest dependency otherwise; a dependency
// outside the snapshot has depth 0. Cycles are not expected here, but if
// one is present the edge back onto the traversal stack contributes depth 0
// and does not extend the chain.
//
// Readiness only sees the snapshot; use AnalyzeWith when dependencies may
// live in other lists.
func Analyze(tasks []*task.Task) DependencyAnalysis {
	return AnalyzeWith(tasks, StatusesOf(tasks))
}

// AnalyzeWith is Analyze with readiness resolved through lookup.
func AnalyzeWith(tasks []*task.Task, lookup StatusLookup) DependencyAnalysis {
	n := len(tasks)
	index := make(map[string]int, n)
	for i, t := range tasks {
		if _, dup := index[t.ID]; !dup {
			index[t.ID] = i
		}
	}

	res := DependencyAnalysis{
		TotalTasks:           n,
		DependencyChains:     make([]DependencyChain, 0, n),
		CriticalPath:         []string{},
		PotentialBottlenecks: []string{},
	}

	var candidates []*task.Task
	for _, t := range tasks {
		if t.Status == task.StatusCompleted {
			res.CompletedTasks++
		}
		if t.Status.Active() {
			candidates = append(candidates, t)
		}
	}
	res.ReadyTasks = len(ReadyTasks(candidates, lookup, 0))
	res.BlockedTasks = res.TotalTasks - res.CompletedTasks - res.ReadyTasks

	dependents := reverseIndex(tasks, index)
	w := newDepthWalk(tasks, index)
	w.run()

	best := -1
	for i, t := range tasks {
		res.DependencyChains = append(res.DependencyChains, DependencyChain{
			TaskID:       t.ID,
			Depth:        w.depth[i],
			Dependencies: append([]string{}, t.Dependencies...),
			Dependents:   dependents[i],
		})
		if best < 0 || w.chainLen[i] > w.chainLen[best] {
			best = i
		}
	}
	if best >= 0 {
		res.CriticalPath = w.chain(best)
	}

	var hot []int
	for i := range tasks {
		if len(dependents[i]) >= bottleneckMinDependents {
			hot = append(hot, i)
		}
	}
	sort.SliceStable(hot, func(a, b int) bool {
		return len(dependents[hot[a]]) > len(dependents[hot[b]])
	})
	if len(hot) > maxBottlenecks {
		hot = hot[:maxBottlenecks]
	}
	for _, i := range hot {
		res.PotentialBottlenecks = append(res.PotentialBottlenecks, tasks[i].ID)
	}
	return res
}

// reverseIndex returns, per task, the other tasks that depend on it in
// input order. Built once per analysis.
func reverseIndex(tasks []*task.Task, index map[string]int) [][]string {
	dependents := make([][]string, len(tasks))
	for i := range dependents {
		dependents[i] = []string{}
	}
	for i, t := range tasks {
		seen := make(map[int]bool, len(t.Dependencies))
		for _, d := range t.Dependencies {
			j, ok := index[d]
			if !ok || j == i || seen[j] {
				continue
			}
			seen[j] = true
			dependents[j] = append(dependents[j], t.ID)
		}
	}
	return dependents
}

// depthWalk memoizes depth and longest-chain links with an explicit stack.
type depthWalk struct {
	tasks    []*task.Task
	index    map[string]int
	state    []uint8
	depth    []int
	next     []int    // chain successor inside the snapshot, -1 if none
	tail     []string // out-of-snapshot dependency ending the chain
	chainLen []int
}

func newDepthWalk(tasks []*task.Task, index map[string]int) *depthWalk {
	n := len(tasks)
	return &depthWalk{
		tasks:    tasks,
		index:    index,
		state:    make([]uint8, n),
		depth:    make([]int, n),
		next:     make([]int, n),
		tail:     make([]string, n),
		chainLen: make([]int, n),
	}
}

func (w *depthWalk) run() {
	type frame struct {
		node int
		next int
	}
	var stack []frame
	for root := range w.tasks {
		if w.state[root] != unvisited {
			continue
		}
		w.state[root] = onStack
		stack = append(stack, frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := w.tasks[top.node].Dependencies
			if top.next < len(deps) {
				d := deps[top.next]
				top.next++
				if j, ok := w.index[d]; ok && w.state[j] == unvisited {
					w.state[j] = onStack
					stack = append(stack, frame{node: j})
				}
				continue
			}
			w.finish(top.node)
			w.state[top.node] = explored
			stack = stack[:len(stack)-1]
		}
	}
}

// finish settles node u once all of its in-snapshot dependencies are done
// or are ancestors on the stack. Ties go to the first dependency listed.
func (w *depthWalk) finish(u int) {
	w.next[u] = -1
	w.chainLen[u] = 1
	deps := w.tasks[u].Dependencies
	if len(deps) == 0 {
		return
	}

	best := -1
	for _, d := range deps {
		j, ok := w.index[d]
		cand := 0
		if ok && w.state[j] == explored {
			cand = w.depth[j]
		}
		if cand <= best {
			continue
		}
		best = cand
		switch {
		case !ok:
			w.next[u], w.tail[u] = -1, d
			w.chainLen[u] = 2
		case w.state[j] == explored:
			w.next[u], w.tail[u] = j, ""
			w.chainLen[u] = 1 + w.chainLen[j]
		default: // ancestor on the stack
			w.next[u], w.tail[u] = -1, ""
			w.chainLen[u] = 1
		}
	}
	w.depth[u] = 1 + best
}

// chain expands the longest chain starting at u.
func (w *depthWalk) chain(u int) []string {
	path := make([]string, 0, w.chainLen[u])
	for u >= 0 {
		path = append(path, w.tasks[u].ID)
		if w.tail[u] != "" {
			path = append(path, w.tail[u])
		}
		u = w.next[u]
	}
	return path
}
