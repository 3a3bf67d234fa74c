// Package api defines the REST API handlers and interfaces for the Cairn server.
package api

import (
	"context"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/service"
	"github.com/GoCodeAlone/cairn/task"
)

// Service is the interface the API uses to reach lists, tasks and the
// dependency core. Implemented by *service.Service.
type Service interface {
	CreateList(ctx context.Context, l *task.List) (*task.List, error)
	GetList(ctx context.Context, id string) (*task.List, error)
	Lists(ctx context.Context) ([]*task.List, error)
	DeleteList(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t *task.Task) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	UpdateTask(ctx context.Context, id string, p service.Patch) (*task.Task, error)
	DeleteTask(ctx context.Context, id string) error

	SetDependencies(ctx context.Context, id string, deps []string) (*task.Task, error)
	ValidateDependencies(ctx context.Context, id string, deps []string) (*depgraph.CircularDependencyResult, error)
	BlockReason(ctx context.Context, id string) (*depgraph.BlockReason, error)
	ReadyTasks(ctx context.Context, listID string, limit int) ([]*task.Task, error)
	Analyze(ctx context.Context, listID string) (*depgraph.DependencyAnalysis, error)
	ListCycles(ctx context.Context, listID string) (*depgraph.CircularDependencyResult, error)
}

var _ Service = (*service.Service)(nil)
