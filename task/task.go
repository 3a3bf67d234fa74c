// Package task defines the task and list model and its persistence.
package task

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether a task in this status is still being worked towards.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled},
	StatusInProgress: {StatusPending, StatusCompleted, StatusBlocked, StatusCancelled},
	StatusBlocked:    {StatusPending, StatusInProgress, StatusCancelled},
	StatusCompleted:  {StatusPending},
	StatusCancelled:  {StatusPending},
}

// CanTransition reports whether a task may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return to.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Priority determines ordering hints for humans and agents. The dependency
// core ignores it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	// ErrNotFound is returned when a task or list does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap write observes
	// a version other than the expected one.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput wraps field validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// Task is a unit of work inside a list.
type Task struct {
	ID                string     `json:"id"`
	ListID            string     `json:"list_id" validate:"required"`
	Title             string     `json:"title" validate:"required,max=200"`
	Description       string     `json:"description,omitempty" validate:"max=4000"`
	Status            Status     `json:"status" validate:"required,oneof=pending in_progress completed blocked cancelled"`
	Priority          Priority   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Dependencies      []string   `json:"dependencies" validate:"dive,required,max=128"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty" validate:"omitempty,gt=0"` // minutes
	Tags              []string   `json:"tags,omitempty" validate:"dive,required,max=50"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// DependsOn reports whether the task lists id as a dependency.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// List groups related tasks.
type List struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,max=120"`
	Description string    `json:"description,omitempty" validate:"max=2000"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists and retrieves lists and tasks.
type Store interface {
	// CreateList persists a new list and returns its assigned ID.
	CreateList(ctx context.Context, l *List) (string, error)

	// GetList retrieves a list by ID.
	GetList(ctx context.Context, id string) (*List, error)

	// Lists returns all lists ordered by creation time.
	Lists(ctx context.Context) ([]*List, error)

	// DeleteList removes a list and every task in it.
	DeleteList(ctx context.Context, id string) error

	// Create persists a new task and returns its assigned ID.
	Create(ctx context.Context, t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// Update saves changes to an existing task. Dependencies are not
	// written here; use UpdateDependencies.
	Update(ctx context.Context, t *Task) error

	// UpdateDependencies replaces a task's dependency list if the stored
	// version still equals expectedVersion.
	UpdateDependencies(ctx context.Context, id string, deps []string, expectedVersion int64) error

	// List returns tasks matching the given filter.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Delete removes a task by ID and strips it from other tasks' dependencies.
	Delete(ctx context.Context, id string) error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	ListID string  `json:"list_id,omitempty"`
	Status *Status `json:"status,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}
