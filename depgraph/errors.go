package depgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/cairn/task"
)

// ErrTaskNotFound matches any *TaskNotFoundError via errors.Is.
var ErrTaskNotFound = errors.New("task not found")

// TaskNotFoundError reports a referenced task id that does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// Is matches both ErrTaskNotFound and the storage-level task.ErrNotFound.
func (e *TaskNotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound || target == task.ErrNotFound
}

// CircularDependencyError is returned when a dependency edit would close a
// cycle. Nothing has been written when it is returned.
type CircularDependencyError struct {
	Cycle  DependencyCycle
	Cycles []DependencyCycle
}

func (e *CircularDependencyError) Error() string {
	msg := "circular dependency detected: " + strings.Join(e.Cycle, " -> ")
	if from, to, ok := e.Cycle.Edge(); ok {
		if from == to {
			msg += fmt.Sprintf("; task %s cannot depend on itself", from)
		} else {
			msg += fmt.Sprintf("; remove the dependency of %s on %s to break the cycle", from, to)
		}
	}
	return msg
}

// ValidationError reports malformed input caught before any graph is built.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OrchestrationError wraps an unexpected repository failure with the name
// of the operation that hit it.
type OrchestrationError struct {
	Op  string
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// wrapRepoErr converts a repository error: not-found becomes a
// TaskNotFoundError for id, anything else an OrchestrationError for op.
func wrapRepoErr(op, id string, err error) error {
	var nf *TaskNotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	if errors.Is(err, task.ErrNotFound) {
		return &TaskNotFoundError{TaskID: id}
	}
	return &OrchestrationError{Op: op, Err: err}
}
