package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS lists (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                 TEXT PRIMARY KEY,
	list_id            TEXT NOT NULL,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	priority           TEXT NOT NULL DEFAULT 'medium',
	dependencies       TEXT NOT NULL DEFAULT '[]',
	estimated_duration INTEGER,
	tags               TEXT NOT NULL DEFAULT '[]',
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	completed_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id);
`

const taskColumns = `id, list_id, title, description, status, priority, dependencies,
	estimated_duration, tags, version, created_at, updated_at, completed_at`

// SQLiteStore persists lists and tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// CreateList persists a new list and sets its ID and timestamps.
func (s *SQLiteStore) CreateList(ctx context.Context, l *List) (string, error) {
	l.ID = uuid.NewString()
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lists (id, name, description, created_at, updated_at) VALUES (?,?,?,?,?)`,
		l.ID, l.Name, l.Description, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert list: %w", err)
	}
	return l.ID, nil
}

// GetList retrieves a list by ID.
func (s *SQLiteStore) GetList(ctx context.Context, id string) (*List, error) {
	var l List
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM lists WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return &l, nil
}

// Lists returns all lists in creation order.
func (s *SQLiteStore) Lists(ctx context.Context) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM lists ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []*List
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, &l)
	}
	return lists, rows.Err()
}

// DeleteList removes a list and all of its tasks.
func (s *SQLiteStore) DeleteList(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		if err := expectRow(res, "list", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE list_id = ?", id); err != nil {
			return fmt.Errorf("delete list tasks: %w", err)
		}
		return nil
	})
}

// Create persists a new task and sets its ID, Version, CreatedAt, and UpdatedAt.
// The owning list must exist.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) (string, error) {
	if _, err := s.GetList(ctx, t.ListID); err != nil {
		return "", err
	}

	t.ID = uuid.NewString()
	t.Version = 1
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == StatusCompleted && t.CompletedAt == nil {
		t.CompletedAt = &now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ListID, t.Title, t.Description, string(t.Status), string(t.Priority),
		mustJSON(t.Dependencies), nullInt(t.EstimatedDuration), mustJSON(t.Tags),
		t.Version, t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update saves changes to an existing task's descriptive fields and status,
// bumping Version and UpdatedAt. Dependencies are left untouched.
func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	if t.Status == StatusCompleted {
		if t.CompletedAt == nil {
			completed := t.UpdatedAt
			t.CompletedAt = &completed
		}
	} else {
		t.CompletedAt = nil
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			title=?, description=?, status=?, priority=?, estimated_duration=?, tags=?,
			updated_at=?, completed_at=?, version=version+1
		WHERE id=?
		RETURNING version`,
		t.Title, t.Description, string(t.Status), string(t.Priority),
		nullInt(t.EstimatedDuration), mustJSON(t.Tags),
		t.UpdatedAt, nullTime(t.CompletedAt),
		t.ID,
	).Scan(&t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// UpdateDependencies replaces a task's dependency list when its stored
// version equals expectedVersion. A mismatch yields ErrVersionConflict.
func (s *SQLiteStore) UpdateDependencies(ctx context.Context, id string, deps []string, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET dependencies=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		mustJSON(deps), time.Now().UTC(), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update dependencies: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var current int64
	err = s.db.QueryRowContext(ctx, "SELECT version FROM tasks WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read task version: %w", err)
	}
	return fmt.Errorf("task %s at version %d, expected %d: %w", id, current, expectedVersion, ErrVersionConflict)
}

// List returns tasks matching the filter in insertion order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if filter.ListID != "" {
		q.WriteString(" AND list_id=?")
		args = append(args, filter.ListID)
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	q.WriteString(" ORDER BY created_at ASC, rowid ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID and removes it from the dependency list of
// every task that referenced it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := expectRow(res, "task", id); err != nil {
			return err
		}

		// LIKE may over-match on wildcard characters; membership is rechecked below.
		rows, err := tx.QueryContext(ctx,
			"SELECT id, dependencies FROM tasks WHERE dependencies LIKE ?", "%"+mustJSON(id)+"%")
		if err != nil {
			return fmt.Errorf("find dependents: %w", err)
		}
		type rewrite struct {
			id   string
			deps []string
		}
		var rewrites []rewrite
		for rows.Next() {
			var depID, depsJSON string
			if err := rows.Scan(&depID, &depsJSON); err != nil {
				rows.Close()
				return err
			}
			var deps []string
			_ = json.Unmarshal([]byte(depsJSON), &deps)
			kept := deps[:0]
			for _, d := range deps {
				if d != id {
					kept = append(kept, d)
				}
			}
			if len(kept) != len(deps) {
				rewrites = append(rewrites, rewrite{id: depID, deps: kept})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC()
		for _, rw := range rewrites {
			if _, err := tx.ExecContext(ctx,
				"UPDATE tasks SET dependencies=?, updated_at=?, version=version+1 WHERE id=?",
				mustJSON(rw.deps), now, rw.id,
			); err != nil {
				return fmt.Errorf("strip dependency from %s: %w", rw.id, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectRow(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, priority, depsJSON, tagsJSON string
	var estimate sql.NullInt64
	var completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.ListID, &t.Title, &t.Description, &status, &priority,
		&depsJSON, &estimate, &tagsJSON, &t.Version,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)

	_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}

	if estimate.Valid {
		n := int(estimate.Int64)
		t.EstimatedDuration = &n
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func mustJSON(v any) string {
	data, _ := json.Marshal(v)
	if string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}
