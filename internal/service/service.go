// Package service combines the task store and the dependency orchestrator
// into the operations exposed by the REST API and the MCP tools.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/server/events"
	"github.com/GoCodeAlone/cairn/task"
)

// Publisher receives change notifications.
type Publisher interface {
	Publish(eventType string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Service is safe for concurrent use as long as the store is.
type Service struct {
	store  task.Store
	deps   *depgraph.Orchestrator
	events Publisher
	logger *slog.Logger
}

// New creates a Service. A nil publisher discards events.
func New(store task.Store, deps *depgraph.Orchestrator, pub Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, deps: deps, events: pub, logger: logger}
}

// Patch carries a partial task update. Nil fields are left unchanged; an
// estimated duration of 0 clears it.
type Patch struct {
	Title             *string        `json:"title,omitempty"`
	Description       *string        `json:"description,omitempty"`
	Status            *task.Status   `json:"status,omitempty"`
	Priority          *task.Priority `json:"priority,omitempty"`
	EstimatedDuration *int           `json:"estimated_duration,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
}

// --- Lists ---

func (s *Service) CreateList(ctx context.Context, l *task.List) (*task.List, error) {
	if err := task.ValidateList(l); err != nil {
		return nil, err
	}
	if _, err := s.store.CreateList(ctx, l); err != nil {
		return nil, err
	}
	s.events.Publish(events.ListCreated, l)
	return l, nil
}

func (s *Service) GetList(ctx context.Context, id string) (*task.List, error) {
	return s.store.GetList(ctx, id)
}

func (s *Service) Lists(ctx context.Context) ([]*task.List, error) {
	lists, err := s.store.Lists(ctx)
	if err != nil {
		return nil, err
	}
	if lists == nil {
		lists = []*task.List{}
	}
	return lists, nil
}

func (s *Service) DeleteList(ctx context.Context, id string) error {
	if err := s.store.DeleteList(ctx, id); err != nil {
		return err
	}
	s.events.Publish(events.ListDeleted, map[string]string{"id": id})
	return nil
}

// --- Tasks ---

// CreateTask validates and stores a new task. Requested dependencies go
// through the orchestrator; if they are rejected the task is removed again
// and the orchestrator's error returned.
func (s *Service) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if err := task.Validate(t); err != nil {
		return nil, err
	}
	deps := t.Dependencies
	t.Dependencies = []string{}

	if _, err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	if len(deps) > 0 {
		updated, err := s.deps.SetTaskDependencies(ctx, t.ID, deps)
		if err != nil {
			if derr := s.store.Delete(ctx, t.ID); derr != nil {
				s.logger.Error("roll back task create",
					slog.String("task", t.ID), slog.Any("err", derr))
			}
			return nil, err
		}
		t = updated
	}
	s.events.Publish(events.TaskCreated, t)
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.store.Get(ctx, id)
}

// ListTasks returns the tasks of one list. The list must exist.
func (s *Service) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	if filter.ListID != "" {
		if _, err := s.store.GetList(ctx, filter.ListID); err != nil {
			return nil, err
		}
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", task.ErrInvalidInput, *filter.Status)
	}
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return tasks, nil
}

// UpdateTask applies a patch. Status changes must be allowed by
// task.CanTransition.
func (s *Service) UpdateTask(ctx context.Context, id string, p Patch) (*task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != nil {
		if !task.CanTransition(t.Status, *p.Status) {
			return nil, fmt.Errorf("task %s: %s -> %s: %w", id, t.Status, *p.Status, task.ErrInvalidTransition)
		}
		t.Status = *p.Status
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.EstimatedDuration != nil {
		if *p.EstimatedDuration == 0 {
			t.EstimatedDuration = nil
		} else {
			d := *p.EstimatedDuration
			t.EstimatedDuration = &d
		}
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if err := task.Validate(t); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.events.Publish(events.TaskUpdated, t)
	return t, nil
}

// SetStatus moves a task to a new status.
func (s *Service) SetStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	return s.UpdateTask(ctx, id, Patch{Status: &status})
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.events.Publish(events.TaskDeleted, map[string]string{"id": id})
	return nil
}

// --- Dependencies ---

func (s *Service) SetDependencies(ctx context.Context, id string, deps []string) (*task.Task, error) {
	t, err := s.deps.SetTaskDependencies(ctx, id, deps)
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.DependenciesUpdated, t)
	return t, nil
}

func (s *Service) ValidateDependencies(ctx context.Context, id string, deps []string) (*depgraph.CircularDependencyResult, error) {
	return s.deps.ValidateDependencies(ctx, id, deps)
}

func (s *Service) BlockReason(ctx context.Context, id string) (*depgraph.BlockReason, error) {
	return s.deps.CalculateBlockReason(ctx, id)
}

// ReadyTasks checks that the list exists before asking the orchestrator.
func (s *Service) ReadyTasks(ctx context.Context, listID string, limit int) ([]*task.Task, error) {
	if _, err := s.store.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return s.deps.GetReadyTasks(ctx, listID, limit)
}

func (s *Service) Analyze(ctx context.Context, listID string) (*depgraph.DependencyAnalysis, error) {
	if _, err := s.store.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return s.deps.AnalyzeDependencies(ctx, listID)
}

func (s *Service) ListCycles(ctx context.Context, listID string) (*depgraph.CircularDependencyResult, error) {
	if _, err := s.store.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return s.deps.DetectListCycles(ctx, listID)
}
