package depgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/GoCodeAlone/cairn/task"
)

// fakeRepo is an in-memory Repository with hooks for failure injection.
type fakeRepo struct {
	tasks map[string]*task.Task
	order []string

	gets      int
	updates   int
	getErr    error
	conflicts int               // upcoming UpdateTaskDependencies calls that fail with a conflict
	onUpdate  func(r *fakeRepo) // runs once, before the first update is applied
}

func newFakeRepo(tasks ...*task.Task) *fakeRepo {
	r := &fakeRepo{tasks: make(map[string]*task.Task)}
	for _, t := range tasks {
		r.put(t)
	}
	return r
}

func (r *fakeRepo) put(t *task.Task) {
	if _, ok := r.tasks[t.ID]; !ok {
		r.order = append(r.order, t.ID)
	}
	r.tasks[t.ID] = t
}

func (r *fakeRepo) GetTask(_ context.Context, id string) (*task.Task, error) {
	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	cp := *t
	cp.Dependencies = append([]string{}, t.Dependencies...)
	return &cp, nil
}

func (r *fakeRepo) ListTasks(_ context.Context, listID string) ([]*task.Task, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	var out []*task.Task
	for _, id := range r.order {
		if t := r.tasks[id]; t.ListID == listID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateTaskDependencies(_ context.Context, id string, deps []string, expectedVersion int64) error {
	r.updates++
	if hook := r.onUpdate; hook != nil {
		r.onUpdate = nil
		hook(r)
	}
	if r.conflicts > 0 {
		r.conflicts--
		return task.ErrVersionConflict
	}
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if t.Version != expectedVersion {
		return task.ErrVersionConflict
	}
	t.Dependencies = append([]string{}, deps...)
	t.Version++
	return nil
}

type recordingObserver struct {
	edits    []string
	analyses int
}

func (o *recordingObserver) DependencyEdit(outcome string) { o.edits = append(o.edits, outcome) }
func (o *recordingObserver) Analysis(int, time.Duration)   { o.analyses++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scenario builds A (completed), B -> A and C -> B, B and C pending.
func scenario() *fakeRepo {
	return newFakeRepo(
		mk("A", task.StatusCompleted),
		mk("B", task.StatusPending, "A"),
		mk("C", task.StatusPending, "B"),
	)
}

func newTestOrchestrator(repo Repository, opts ...Option) *Orchestrator {
	return New(repo, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestOrchestrator_GetReadyTasks(t *testing.T) {
	o := newTestOrchestrator(scenario())
	ready, err := o.GetReadyTasks(context.Background(), "L", 0)
	if err != nil {
		t.Fatalf("GetReadyTasks: %v", err)
	}
	if got := fmt.Sprint(ids(ready)); got != "[B]" {
		t.Errorf("ready = %s, want [B]", got)
	}
}

func TestOrchestrator_GetReadyTasks_OutOfListDependencies(t *testing.T) {
	ext := mk("ext", task.StatusCompleted)
	ext.ListID = "other"
	repo := newFakeRepo(
		ext,
		mk("A", task.StatusPending, "ext"),
		mk("B", task.StatusPending, "gone"),
		mk("C", task.StatusPending),
	)
	o := newTestOrchestrator(repo)

	ready, err := o.GetReadyTasks(context.Background(), "L", 0)
	if err != nil {
		t.Fatalf("GetReadyTasks: %v", err)
	}
	if got := fmt.Sprint(ids(ready)); got != "[A C]" {
		t.Errorf("ready = %s, want [A C]", got)
	}

	ready, err = o.GetReadyTasks(context.Background(), "L", 1)
	if err != nil {
		t.Fatalf("GetReadyTasks limit: %v", err)
	}
	if got := fmt.Sprint(ids(ready)); got != "[A]" {
		t.Errorf("ready limit 1 = %s, want [A]", got)
	}

	if _, err := o.GetReadyTasks(context.Background(), "L", -1); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestOrchestrator_SetTaskDependencies(t *testing.T) {
	repo := newFakeRepo(
		mk("A", task.StatusPending),
		mk("B", task.StatusPending),
		mk("C", task.StatusPending),
	)
	o := newTestOrchestrator(repo)

	got, err := o.SetTaskDependencies(context.Background(), "C", []string{"A", "B", "A"})
	if err != nil {
		t.Fatalf("SetTaskDependencies: %v", err)
	}
	if fmt.Sprint(got.Dependencies) != "[A B]" {
		t.Errorf("Dependencies = %v, want [A B]", got.Dependencies)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if repo.updates != 1 {
		t.Errorf("updates = %d, want 1", repo.updates)
	}

	got, err = o.SetTaskDependencies(context.Background(), "C", nil)
	if err != nil {
		t.Fatalf("SetTaskDependencies clear: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want empty", got.Dependencies)
	}
}

func TestOrchestrator_SetTaskDependencies_Cycle(t *testing.T) {
	repo := scenario()
	o := newTestOrchestrator(repo)

	_, err := o.SetTaskDependencies(context.Background(), "A", []string{"C"})
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CircularDependencyError", err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if !cerr.Cycle.Contains(id) {
			t.Errorf("cycle %v missing %s", cerr.Cycle, id)
		}
	}
	if errors.Is(err, ErrTaskNotFound) {
		t.Error("cycle error must be distinguishable from not-found")
	}

	if repo.updates != 0 {
		t.Errorf("updates = %d, want 0", repo.updates)
	}
	a, _ := repo.GetTask(context.Background(), "A")
	if len(a.Dependencies) != 0 {
		t.Errorf("A.Dependencies = %v, want unchanged empty", a.Dependencies)
	}
}

func TestOrchestrator_SetTaskDependencies_NotFound(t *testing.T) {
	repo := scenario()
	o := newTestOrchestrator(repo)

	_, err := o.SetTaskDependencies(context.Background(), "C", []string{"B", "nope"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
	var nf *TaskNotFoundError
	if !errors.As(err, &nf) || nf.TaskID != "nope" {
		t.Errorf("err = %v, want TaskNotFoundError for nope", err)
	}

	_, err = o.SetTaskDependencies(context.Background(), "missing", []string{"A"})
	if !errors.As(err, &nf) || nf.TaskID != "missing" {
		t.Errorf("err = %v, want TaskNotFoundError for missing", err)
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, want 0", repo.updates)
	}
}

func TestOrchestrator_SetTaskDependencies_Validation(t *testing.T) {
	o := newTestOrchestrator(scenario())
	tests := []struct {
		name   string
		taskID string
		deps   []string
	}{
		{"empty task id", "", []string{"A"}},
		{"self dependency", "B", []string{"A", "B"}},
		{"empty dependency", "B", []string{""}},
		{"whitespace", "B", []string{"A B"}},
		{"control char", "B", []string{"A\x00"}},
		{"too long", "B", []string{string(make([]byte, 129))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.SetTaskDependencies(context.Background(), tt.taskID, tt.deps)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestOrchestrator_SetTaskDependencies_RetriesOnce(t *testing.T) {
	repo := scenario()
	repo.conflicts = 1
	o := newTestOrchestrator(repo)

	got, err := o.SetTaskDependencies(context.Background(), "C", []string{"A"})
	if err != nil {
		t.Fatalf("SetTaskDependencies: %v", err)
	}
	if fmt.Sprint(got.Dependencies) != "[A]" {
		t.Errorf("Dependencies = %v, want [A]", got.Dependencies)
	}
	if repo.updates != 2 {
		t.Errorf("updates = %d, want 2", repo.updates)
	}
}

func TestOrchestrator_SetTaskDependencies_SecondConflictFails(t *testing.T) {
	repo := scenario()
	repo.conflicts = 2
	o := newTestOrchestrator(repo)

	_, err := o.SetTaskDependencies(context.Background(), "C", []string{"A"})
	if !errors.Is(err, task.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	var oerr *OrchestrationError
	if !errors.As(err, &oerr) {
		t.Errorf("err = %T, want *OrchestrationError", err)
	}
	if repo.updates != 2 {
		t.Errorf("updates = %d, want 2", repo.updates)
	}
	c, _ := repo.GetTask(context.Background(), "C")
	if fmt.Sprint(c.Dependencies) != "[B]" {
		t.Errorf("C.Dependencies = %v, want unchanged [B]", c.Dependencies)
	}
}

func TestOrchestrator_SetTaskDependencies_RevalidatesAfterConflict(t *testing.T) {
	repo := newFakeRepo(
		mk("A", task.StatusPending),
		mk("B", task.StatusPending),
	)
	// A concurrent writer touches A and makes B depend on A while the edit
	// A -> B is in flight.
	repo.onUpdate = func(r *fakeRepo) {
		r.tasks["A"].Version++
		r.tasks["B"].Dependencies = []string{"A"}
		r.tasks["B"].Version++
	}
	o := newTestOrchestrator(repo)

	_, err := o.SetTaskDependencies(context.Background(), "A", []string{"B"})
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CircularDependencyError after revalidation", err)
	}
	if len(repo.tasks["A"].Dependencies) != 0 {
		t.Errorf("A.Dependencies = %v, want empty", repo.tasks["A"].Dependencies)
	}
}

func TestOrchestrator_SetTaskDependencies_RepoFailure(t *testing.T) {
	repo := scenario()
	repo.getErr = errors.New("disk on fire")
	o := newTestOrchestrator(repo)

	_, err := o.SetTaskDependencies(context.Background(), "C", []string{"A"})
	var oerr *OrchestrationError
	if !errors.As(err, &oerr) {
		t.Fatalf("err = %v, want OrchestrationError", err)
	}
	if oerr.Op != "set dependencies" {
		t.Errorf("Op = %q, want set dependencies", oerr.Op)
	}
	if got := err.Error(); got != "set dependencies: disk on fire" {
		t.Errorf("Error() = %q", got)
	}
}

func TestOrchestrator_ValidateDependencies(t *testing.T) {
	repo := scenario()
	o := newTestOrchestrator(repo)
	ctx := context.Background()

	first, err := o.ValidateDependencies(ctx, "A", []string{"C"})
	if err != nil {
		t.Fatalf("ValidateDependencies: %v", err)
	}
	if !first.HasCircularDependency {
		t.Fatal("expected a cycle")
	}
	got := sorted(first.AffectedTasks)
	if fmt.Sprint(got) != "[A B C]" {
		t.Errorf("AffectedTasks = %v, want [A B C]", got)
	}

	second, err := o.ValidateDependencies(ctx, "A", []string{"C"})
	if err != nil {
		t.Fatalf("ValidateDependencies again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, want 0", repo.updates)
	}

	ok, err := o.ValidateDependencies(ctx, "C", []string{"A"})
	if err != nil {
		t.Fatalf("ValidateDependencies acyclic: %v", err)
	}
	if ok.HasCircularDependency {
		t.Errorf("unexpected cycle %v", ok.Cycles)
	}

	if _, err := o.ValidateDependencies(ctx, "C", []string{"nope"}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestOrchestrator_CalculateBlockReason(t *testing.T) {
	repo := scenario()
	dur := 30
	repo.tasks["B"].EstimatedDuration = &dur
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := newTestOrchestrator(repo, WithClock(func() time.Time { return now }))

	reason, err := o.CalculateBlockReason(context.Background(), "C")
	if err != nil {
		t.Fatalf("CalculateBlockReason: %v", err)
	}
	if fmt.Sprint(reason.BlockedBy) != "[B]" {
		t.Errorf("BlockedBy = %v, want [B]", reason.BlockedBy)
	}
	if len(reason.Details) != 1 {
		t.Fatalf("len(Details) = %d, want 1", len(reason.Details))
	}
	if eta := reason.Details[0].EstimatedCompletion; eta == nil || !eta.Equal(now.Add(30*time.Minute)) {
		t.Errorf("EstimatedCompletion = %v, want %v", eta, now.Add(30*time.Minute))
	}

	reason, err = o.CalculateBlockReason(context.Background(), "B")
	if err != nil {
		t.Fatalf("CalculateBlockReason(B): %v", err)
	}
	if reason.Blocked() {
		t.Errorf("B should not be blocked, got %v", reason.BlockedBy)
	}

	if _, err := o.CalculateBlockReason(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestOrchestrator_DetectListCycles(t *testing.T) {
	repo := scenario()
	o := newTestOrchestrator(repo)

	res, err := o.DetectListCycles(context.Background(), "L")
	if err != nil {
		t.Fatalf("DetectListCycles: %v", err)
	}
	if res.HasCircularDependency {
		t.Errorf("unexpected cycles %v", res.Cycles)
	}

	// Simulate a cycle that reached storage behind the orchestrator's back.
	repo.tasks["A"].Dependencies = []string{"C"}
	res, err = o.DetectListCycles(context.Background(), "L")
	if err != nil {
		t.Fatalf("DetectListCycles: %v", err)
	}
	if !res.HasCircularDependency || len(res.AffectedTasks) != 3 {
		t.Errorf("result = %+v, want one cycle over 3 tasks", res)
	}
}

func TestOrchestrator_DetectCircularDependencies(t *testing.T) {
	o := newTestOrchestrator(scenario())
	g := GraphFromEdges([]string{"X", "Y"}, map[string][]string{"X": {"Y"}, "Y": {"X"}})

	res := o.DetectCircularDependencies(g)
	if !res.HasCircularDependency || len(res.Cycles) != 1 {
		t.Fatalf("result = %+v, want one cycle", res)
	}
	if got := o.DetectCircularDependencies(nil); got.HasCircularDependency {
		t.Errorf("nil graph reported cycles %v", got.Cycles)
	}
}

func TestOrchestrator_AnalyzeDependencies(t *testing.T) {
	obs := &recordingObserver{}
	o := newTestOrchestrator(scenario(), WithObserver(obs))

	a, err := o.AnalyzeDependencies(context.Background(), "L")
	if err != nil {
		t.Fatalf("AnalyzeDependencies: %v", err)
	}
	if a.TotalTasks != 3 || a.ReadyTasks != 1 || a.CompletedTasks != 1 || a.BlockedTasks != 1 {
		t.Errorf("analysis = %+v", a)
	}
	if fmt.Sprint(a.CriticalPath) != "[C B A]" {
		t.Errorf("CriticalPath = %v, want [C B A]", a.CriticalPath)
	}
	if obs.analyses != 1 {
		t.Errorf("analyses = %d, want 1", obs.analyses)
	}
}

func TestOrchestrator_AnalyzeDependencies_AgreesWithReady(t *testing.T) {
	ext := mk("ext", task.StatusCompleted)
	ext.ListID = "other"
	repo := newFakeRepo(
		ext,
		mk("A", task.StatusPending, "ext"),
		mk("C", task.StatusPending),
	)
	o := newTestOrchestrator(repo)
	ctx := context.Background()

	ready, err := o.GetReadyTasks(ctx, "L", 0)
	if err != nil {
		t.Fatalf("GetReadyTasks: %v", err)
	}
	a, err := o.AnalyzeDependencies(ctx, "L")
	if err != nil {
		t.Fatalf("AnalyzeDependencies: %v", err)
	}
	if a.ReadyTasks != len(ready) || a.ReadyTasks != 2 {
		t.Errorf("ReadyTasks = %d, GetReadyTasks = %d, want both 2", a.ReadyTasks, len(ready))
	}
	if a.BlockedTasks != 0 {
		t.Errorf("BlockedTasks = %d, want 0", a.BlockedTasks)
	}
	if fmt.Sprint(a.CriticalPath) != "[A ext]" {
		t.Errorf("CriticalPath = %v, want [A ext]", a.CriticalPath)
	}
}

func TestOrchestrator_AnalyzeDependencies_RepoFailure(t *testing.T) {
	repo := newFakeRepo(mk("A", task.StatusPending, "ext"))
	o := newTestOrchestrator(&failingGetRepo{fakeRepo: repo})

	_, err := o.AnalyzeDependencies(context.Background(), "L")
	var oe *OrchestrationError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want *OrchestrationError", err)
	}
}

// failingGetRepo fails single-task lookups while listing still works.
type failingGetRepo struct {
	*fakeRepo
}

func (r *failingGetRepo) GetTask(context.Context, string) (*task.Task, error) {
	return nil, errors.New("disk gone")
}

func TestOrchestrator_ObserverOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	repo := scenario()
	o := newTestOrchestrator(repo, WithObserver(obs))
	ctx := context.Background()

	o.SetTaskDependencies(ctx, "C", []string{"A"})
	o.SetTaskDependencies(ctx, "A", []string{"C"})
	o.SetTaskDependencies(ctx, "A", []string{"nope"})
	o.SetTaskDependencies(ctx, "A", []string{"A"})
	repo.conflicts = 2
	o.SetTaskDependencies(ctx, "B", nil)

	want := []string{OutcomeCommitted, OutcomeCycle, OutcomeNotFound, OutcomeInvalid, OutcomeConflict}
	if !reflect.DeepEqual(obs.edits, want) {
		t.Errorf("edits = %v, want %v", obs.edits, want)
	}
}

func TestCircularDependencyError_Message(t *testing.T) {
	err := &CircularDependencyError{Cycle: DependencyCycle{"A", "C", "B", "A"}}
	want := "circular dependency detected: A -> C -> B -> A; remove the dependency of B on A to break the cycle"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	self := &CircularDependencyError{Cycle: DependencyCycle{"A", "A"}}
	if got := self.Error(); got != "circular dependency detected: A -> A; task A cannot depend on itself" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTaskNotFoundError_MatchesStoreSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &TaskNotFoundError{TaskID: "x"})
	if !errors.Is(err, task.ErrNotFound) {
		t.Error("TaskNotFoundError should match task.ErrNotFound")
	}
	if !errors.Is(err, ErrTaskNotFound) {
		t.Error("TaskNotFoundError should match ErrTaskNotFound")
	}
}
