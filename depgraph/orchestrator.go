package depgraph

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode"

	"github.com/GoCodeAlone/cairn/task"
)

// maxIDLength bounds task and list ids accepted by the orchestrator.
const maxIDLength = 128

// Outcomes reported to an Observer for dependency edits.
const (
	OutcomeCommitted = "committed"
	OutcomeCycle     = "cycle"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Observer receives measurements from the orchestrator.
type Observer interface {
	// DependencyEdit is called once per SetTaskDependencies call.
	DependencyEdit(outcome string)
	// Analysis is called after a list analysis completes.
	Analysis(tasks int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) DependencyEdit(string)       {}
func (nopObserver) Analysis(int, time.Duration) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the time source used for estimated completions.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithObserver sets the metrics hook.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// Orchestrator exposes the dependency operations over a Repository. It holds
// no state between calls; every call materializes its own snapshot.
type Orchestrator struct {
	repo     Repository
	builder  *GraphBuilder
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

// New creates an Orchestrator reading and writing through repo.
func New(repo Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		builder:  NewGraphBuilder(repo),
		logger:   slog.Default(),
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetTaskDependencies replaces the dependencies of taskID with deps after
// checking that every id exists and that no cycle would result. The commit
// is a compare-and-swap against the version read during validation; on a
// version conflict validation is run again and the commit retried once.
// It returns the task as stored after the write.
func (o *Orchestrator) SetTaskDependencies(ctx context.Context, taskID string, deps []string) (*task.Task, error) {
	t, err := o.setTaskDependencies(ctx, taskID, deps)
	o.observer.DependencyEdit(editOutcome(err))
	return t, err
}

func (o *Orchestrator) setTaskDependencies(ctx context.Context, taskID string, deps []string) (*task.Task, error) {
	deps, err := normalizeDeps(taskID, deps)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		subject, err := o.repo.GetTask(ctx, taskID)
		if err != nil {
			return nil, wrapRepoErr("set dependencies", taskID, err)
		}
		g, err := o.builder.BuildFor(ctx, subject, deps)
		if err != nil {
			return nil, err
		}
		if res := DetectCycles(g); res.HasCircularDependency {
			o.logger.Info("dependency edit rejected",
				slog.String("task", taskID),
				slog.Any("cycle", res.Cycles[0]))
			return nil, &CircularDependencyError{Cycle: res.Cycles[0], Cycles: res.Cycles}
		}

		err = o.repo.UpdateTaskDependencies(ctx, taskID, deps, subject.Version)
		if errors.Is(err, task.ErrVersionConflict) {
			if attempt < 2 {
				o.logger.Warn("dependency edit raced, revalidating",
					slog.String("task", taskID),
					slog.Int64("version", subject.Version))
				continue
			}
			return nil, &OrchestrationError{Op: "set dependencies", Err: err}
		}
		if err != nil {
			return nil, wrapRepoErr("set dependencies", taskID, err)
		}

		updated, err := o.repo.GetTask(ctx, taskID)
		if err != nil {
			return nil, wrapRepoErr("set dependencies", taskID, err)
		}
		o.logger.Debug("dependencies updated",
			slog.String("task", taskID),
			slog.Int("count", len(deps)))
		return updated, nil
	}
}

// ValidateDependencies performs the existence and cycle checks of
// SetTaskDependencies without writing. A cycle is reported in the result,
// not as an error.
func (o *Orchestrator) ValidateDependencies(ctx context.Context, taskID string, deps []string) (*CircularDependencyResult, error) {
	deps, err := normalizeDeps(taskID, deps)
	if err != nil {
		return nil, err
	}
	g, err := o.builder.Build(ctx, taskID, deps)
	if err != nil {
		return nil, err
	}
	res := DetectCycles(g)
	return &res, nil
}

// DetectCircularDependencies runs cycle detection on a caller-built graph.
func (o *Orchestrator) DetectCircularDependencies(g *DependencyGraph) CircularDependencyResult {
	return DetectCycles(g)
}

// DetectListCycles audits the committed dependencies of a whole list.
func (o *Orchestrator) DetectListCycles(ctx context.Context, listID string) (*CircularDependencyResult, error) {
	if err := validateID("list_id", listID); err != nil {
		return nil, err
	}
	tasks, err := o.repo.ListTasks(ctx, listID)
	if err != nil {
		return nil, wrapRepoErr("detect list cycles", listID, err)
	}
	g := NewGraph()
	for _, t := range tasks {
		g.AddNode(t.ID, t.Dependencies)
	}
	res := DetectCycles(g)
	if res.HasCircularDependency {
		o.logger.Warn("committed dependency cycle",
			slog.String("list", listID),
			slog.Int("cycles", len(res.Cycles)))
	}
	return &res, nil
}

// CalculateBlockReason explains which dependencies keep taskID from being
// ready. Dependencies that no longer exist are reported as missing.
func (o *Orchestrator) CalculateBlockReason(ctx context.Context, taskID string) (*BlockReason, error) {
	if err := validateID("task_id", taskID); err != nil {
		return nil, err
	}
	t, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, wrapRepoErr("calculate block reason", taskID, err)
	}

	deps := make([]*task.Task, 0, len(t.Dependencies))
	for _, id := range t.Dependencies {
		dep, err := o.repo.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				continue
			}
			return nil, &OrchestrationError{Op: "calculate block reason", Err: err}
		}
		deps = append(deps, dep)
	}

	reason := ExplainBlock(t, TasksOf(deps), o.now())
	return &reason, nil
}

// GetReadyTasks returns the pending and in-progress tasks of a list whose
// dependencies are all completed, in list order. A positive limit caps the
// result. Dependencies outside the list are resolved individually.
func (o *Orchestrator) GetReadyTasks(ctx context.Context, listID string, limit int) ([]*task.Task, error) {
	if err := validateID("list_id", listID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	tasks, err := o.repo.ListTasks(ctx, listID)
	if err != nil {
		return nil, wrapRepoErr("get ready tasks", listID, err)
	}

	lookup, err := o.resolveStatuses(ctx, "get ready tasks", tasks)
	if err != nil {
		return nil, err
	}
	var candidates []*task.Task
	for _, t := range tasks {
		if t.Status.Active() {
			candidates = append(candidates, t)
		}
	}
	return ReadyTasks(candidates, lookup, limit), nil
}

// AnalyzeDependencies produces whole-list analytics.
func (o *Orchestrator) AnalyzeDependencies(ctx context.Context, listID string) (*DependencyAnalysis, error) {
	if err := validateID("list_id", listID); err != nil {
		return nil, err
	}
	start := time.Now()
	tasks, err := o.repo.ListTasks(ctx, listID)
	if err != nil {
		return nil, wrapRepoErr("analyze dependencies", listID, err)
	}
	lookup, err := o.resolveStatuses(ctx, "analyze dependencies", tasks)
	if err != nil {
		return nil, err
	}
	a := AnalyzeWith(tasks, lookup)
	o.observer.Analysis(len(tasks), time.Since(start))
	return &a, nil
}

// resolveStatuses builds a status lookup over tasks that also resolves the
// dependencies of active tasks living outside the snapshot. A missing
// dependency resolves as unknown.
func (o *Orchestrator) resolveStatuses(ctx context.Context, op string, tasks []*task.Task) (StatusLookup, error) {
	statuses := make(map[string]task.Status, len(tasks))
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}
	for _, t := range tasks {
		if !t.Status.Active() {
			continue
		}
		for _, id := range t.Dependencies {
			if _, ok := statuses[id]; ok {
				continue
			}
			dep, err := o.repo.GetTask(ctx, id)
			if err != nil {
				if errors.Is(err, task.ErrNotFound) {
					// Remember the miss so it is looked up once.
					statuses[id] = ""
					continue
				}
				return nil, &OrchestrationError{Op: op, Err: err}
			}
			statuses[id] = dep.Status
		}
	}
	return func(id string) (task.Status, bool) {
		s, ok := statuses[id]
		return s, ok && s != ""
	}, nil
}

// normalizeDeps validates the subject and dependency ids and collapses
// duplicates, keeping the first occurrence.
func normalizeDeps(taskID string, deps []string) ([]string, error) {
	if err := validateID("task_id", taskID); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(deps))
	seen := make(map[string]bool, len(deps))
	for _, id := range deps {
		if err := validateID("dependencies", id); err != nil {
			return nil, err
		}
		if id == taskID {
			return nil, &ValidationError{Field: "dependencies", Reason: "task " + taskID + " cannot depend on itself"}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validateID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Reason: "id must not be empty"}
	}
	if len(id) > maxIDLength {
		return &ValidationError{Field: field, Reason: "id exceeds 128 bytes"}
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &ValidationError{Field: field, Reason: "id contains whitespace or control characters"}
		}
	}
	return nil
}

func editOutcome(err error) string {
	var (
		cycle *CircularDependencyError
		inval *ValidationError
	)
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.As(err, &cycle):
		return OutcomeCycle
	case errors.As(err, &inval):
		return OutcomeInvalid
	case errors.Is(err, ErrTaskNotFound):
		return OutcomeNotFound
	case errors.Is(err, task.ErrVersionConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}
