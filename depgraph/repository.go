package depgraph

import (
	"context"

	"github.com/GoCodeAlone/cairn/task"
)

// Repository is the narrow view of task storage the core needs.
type Repository interface {
	// GetTask fetches one task. A missing task is reported with an error
	// wrapping task.ErrNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ListTasks fetches every task of a list in a stable order.
	ListTasks(ctx context.Context, listID string) ([]*task.Task, error)

	// UpdateTaskDependencies commits a validated dependency set if the task
	// is still at expectedVersion, failing with task.ErrVersionConflict
	// otherwise.
	UpdateTaskDependencies(ctx context.Context, id string, deps []string, expectedVersion int64) error
}

// StoreRepository adapts a task.Store to Repository.
type StoreRepository struct {
	Store task.Store
}

// NewStoreRepository returns a Repository backed by store.
func NewStoreRepository(store task.Store) *StoreRepository {
	return &StoreRepository{Store: store}
}

func (r *StoreRepository) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return r.Store.Get(ctx, id)
}

func (r *StoreRepository) ListTasks(ctx context.Context, listID string) ([]*task.Task, error) {
	return r.Store.List(ctx, task.Filter{ListID: listID})
}

func (r *StoreRepository) UpdateTaskDependencies(ctx context.Context, id string, deps []string, expectedVersion int64) error {
	return r.Store.UpdateDependencies(ctx, id, deps, expectedVersion)
}
