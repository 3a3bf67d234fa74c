package depgraph

import (
	"time"

	"github.com/GoCodeAlone/cairn/task"
)

// TaskLookup resolves a task id to its snapshot. ok is false when the id is
// unknown.
type TaskLookup func(id string) (t *task.Task, ok bool)

// TasksOf builds a TaskLookup over a task snapshot.
func TasksOf(tasks []*task.Task) TaskLookup {
	m := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return func(id string) (*task.Task, bool) {
		t, ok := m[id]
		return t, ok
	}
}

// BlockingTaskDetail describes one incomplete dependency.
type BlockingTaskDetail struct {
	TaskID              string      `json:"task_id"`
	TaskTitle           string      `json:"task_title"`
	Status              task.Status `json:"status,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
	Missing             bool        `json:"missing,omitempty"`
}

// BlockReason lists the dependencies keeping a task from being ready.
type BlockReason struct {
	TaskID    string               `json:"task_id"`
	BlockedBy []string             `json:"blocked_by"`
	Details   []BlockingTaskDetail `json:"details"`
}

// Blocked reports whether any dependency is incomplete.
func (r *BlockReason) Blocked() bool { return len(r.BlockedBy) > 0 }

// ExplainBlock walks t's dependencies in order and reports every one that
// is not completed. A dependency carrying an estimated duration gets an
// estimated completion of now plus that many minutes. Dependencies that
// cannot be resolved are reported as missing.
func ExplainBlock(t *task.Task, lookup TaskLookup, now time.Time) BlockReason {
	reason := BlockReason{
		TaskID:    t.ID,
		BlockedBy: []string{},
		Details:   []BlockingTaskDetail{},
	}
	for _, id := range t.Dependencies {
		dep, ok := lookup(id)
		if !ok {
			reason.BlockedBy = append(reason.BlockedBy, id)
			reason.Details = append(reason.Details, BlockingTaskDetail{TaskID: id, Missing: true})
			continue
		}
		if dep.Status == task.StatusCompleted {
			continue
		}
		detail := BlockingTaskDetail{
			TaskID:    dep.ID,
			TaskTitle: dep.Title,
			Status:    dep.Status,
		}
		if dep.EstimatedDuration != nil {
			eta := now.Add(time.Duration(*dep.EstimatedDuration) * time.Minute)
			detail.EstimatedCompletion = &eta
		}
		reason.BlockedBy = append(reason.BlockedBy, id)
		reason.Details = append(reason.Details, detail)
	}
	return reason
}
