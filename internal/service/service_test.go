package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/server/events"
	"github.com/GoCodeAlone/cairn/task"
)

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(eventType string, _ any) {
	p.types = append(p.types, eventType)
}

func newTestService(t *testing.T) (*Service, *task.SQLiteStore, *recordingPublisher) {
	t.Helper()
	f, err := os.CreateTemp("", "cairn-service-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := depgraph.New(depgraph.NewStoreRepository(store), depgraph.WithLogger(logger))
	pub := &recordingPublisher{}
	return New(store, orch, pub, logger), store, pub
}

func mustList(t *testing.T, svc *Service) string {
	t.Helper()
	l, err := svc.CreateList(context.Background(), &task.List{Name: "sprint"})
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	return l.ID
}

func mustTask(t *testing.T, svc *Service, listID, title string, deps ...string) *task.Task {
	t.Helper()
	created, err := svc.CreateTask(context.Background(), &task.Task{
		ListID:       listID,
		Title:        title,
		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", title, err)
	}
	return created
}

func TestCreateTask_WithDependencies(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)

	a := mustTask(t, svc, listID, "A")
	b := mustTask(t, svc, listID, "B", a.ID)

	if b.Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", b.Status)
	}
	if len(b.Dependencies) != 1 || b.Dependencies[0] != a.ID {
		t.Errorf("Dependencies = %v, want [%s]", b.Dependencies, a.ID)
	}
	got, err := svc.GetTask(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(got.Dependencies) != 1 {
		t.Errorf("stored Dependencies = %v", got.Dependencies)
	}

	want := []string{events.ListCreated, events.TaskCreated, events.TaskCreated}
	if len(pub.types) != len(want) {
		t.Fatalf("events = %v, want %v", pub.types, want)
	}
}

func TestCreateTask_UnknownDependencyRollsBack(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)

	_, err := svc.CreateTask(ctx, &task.Task{ListID: listID, Title: "orphan", Dependencies: []string{"missing"}})
	if !errors.Is(err, depgraph.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
	tasks, err := store.List(ctx, task.Filter{ListID: listID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks, want rollback to 0", len(tasks))
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	listID := mustList(t, svc)
	_, err := svc.CreateTask(context.Background(), &task.Task{ListID: listID})
	if !errors.Is(err, task.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateTask_Transitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)
	a := mustTask(t, svc, listID, "A")

	done, err := svc.SetStatus(ctx, a.ID, task.StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus completed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	_, err = svc.SetStatus(ctx, a.ID, task.StatusInProgress)
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}

	reopened, err := svc.SetStatus(ctx, a.ID, task.StatusPending)
	if err != nil {
		t.Fatalf("SetStatus reopen: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Error("CompletedAt should be cleared on reopen")
	}
}

func TestUpdateTask_Patch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)
	a := mustTask(t, svc, listID, "A")

	title := "renamed"
	est := 45
	got, err := svc.UpdateTask(ctx, a.ID, Patch{Title: &title, EstimatedDuration: &est, Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Title != "renamed" || got.EstimatedDuration == nil || *got.EstimatedDuration != 45 {
		t.Errorf("task = %+v", got)
	}

	zero := 0
	got, err = svc.UpdateTask(ctx, a.ID, Patch{EstimatedDuration: &zero})
	if err != nil {
		t.Fatalf("UpdateTask clear: %v", err)
	}
	if got.EstimatedDuration != nil {
		t.Errorf("EstimatedDuration = %v, want cleared", *got.EstimatedDuration)
	}

	if _, err := svc.UpdateTask(ctx, "missing", Patch{Title: &title}); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDependencyFlow(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)

	a := mustTask(t, svc, listID, "A")
	b := mustTask(t, svc, listID, "B", a.ID)
	c := mustTask(t, svc, listID, "C", b.ID)
	if _, err := svc.SetStatus(ctx, a.ID, task.StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	ready, err := svc.ReadyTasks(ctx, listID, 0)
	if err != nil {
		t.Fatalf("ReadyTasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Errorf("ready = %v, want [B]", ready)
	}

	_, err = svc.SetDependencies(ctx, a.ID, []string{c.ID})
	var cerr *depgraph.CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CircularDependencyError", err)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		if !cerr.Cycle.Contains(id) {
			t.Errorf("cycle %v missing %s", cerr.Cycle, id)
		}
	}

	reason, err := svc.BlockReason(ctx, c.ID)
	if err != nil {
		t.Fatalf("BlockReason: %v", err)
	}
	if len(reason.BlockedBy) != 1 || reason.BlockedBy[0] != b.ID {
		t.Errorf("BlockedBy = %v, want [B]", reason.BlockedBy)
	}

	analysis, err := svc.Analyze(ctx, listID)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.TotalTasks != 3 || len(analysis.CriticalPath) != 3 {
		t.Errorf("analysis = %+v", analysis)
	}

	cycles, err := svc.ListCycles(ctx, listID)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if cycles.HasCircularDependency {
		t.Errorf("unexpected committed cycle %v", cycles.Cycles)
	}

	before := len(pub.types)
	if _, err := svc.SetDependencies(ctx, c.ID, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("SetDependencies: %v", err)
	}
	if pub.types[len(pub.types)-1] != events.DependenciesUpdated || len(pub.types) != before+1 {
		t.Errorf("events = %v", pub.types)
	}
}

func TestListScopedOperations_UnknownList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ReadyTasks(ctx, "nope", 0); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("ReadyTasks err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Analyze(ctx, "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Analyze err = %v, want ErrNotFound", err)
	}
	if _, err := svc.ListTasks(ctx, task.Filter{ListID: "nope"}); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("ListTasks err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTask_StripsDependents(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	listID := mustList(t, svc)
	a := mustTask(t, svc, listID, "A")
	b := mustTask(t, svc, listID, "B", a.ID)

	if err := svc.DeleteTask(ctx, a.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	got, err := svc.GetTask(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want empty", got.Dependencies)
	}
}
