package depgraph

import "github.com/GoCodeAlone/cairn/task"

// StatusLookup resolves the current status of a task id. ok is false when
// the id is unknown.
type StatusLookup func(id string) (status task.Status, ok bool)

// StatusesOf builds a StatusLookup over a task snapshot.
func StatusesOf(tasks []*task.Task) StatusLookup {
	m := make(map[string]task.Status, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t.Status
	}
	return func(id string) (task.Status, bool) {
		s, ok := m[id]
		return s, ok
	}
}

// IsReady reports whether every direct dependency of t is completed. A task
// without dependencies is always ready; an unknown dependency counts as not
// completed.
func IsReady(t *task.Task, lookup StatusLookup) bool {
	for _, id := range t.Dependencies {
		s, ok := lookup(id)
		if !ok || s != task.StatusCompleted {
			return false
		}
	}
	return true
}

// ReadyTasks filters candidates by IsReady, keeping input order. When limit
// is positive it stops after limit matches. Callers restrict candidates to
// pending and in-progress tasks.
func ReadyTasks(candidates []*task.Task, lookup StatusLookup, limit int) []*task.Task {
	ready := []*task.Task{}
	for _, t := range candidates {
		if !IsReady(t, lookup) {
			continue
		}
		ready = append(ready, t)
		if limit > 0 && len(ready) >= limit {
			break
		}
	}
	return ready
}
