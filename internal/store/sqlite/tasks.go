package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/store"
)

type taskRow struct {
	ID          string `db:"id"`
	Title       string `db:"title"`
	Done        bool   `db:"done"`
	DueAt       *int64 `db:"due_at"`
	CreatedAt   int64  `db:"created_at"`
	CompletedAt *int64 `db:"completed_at"`
}

func (r taskRow) task() store.Task {
	return store.Task{
		ID:          r.ID,
		Title:       r.Title,
		Done:        r.Done,
		DueAt:       fromNullUnix(r.DueAt),
		CreatedAt:   fromUnix(r.CreatedAt),
		CompletedAt: fromNullUnix(r.CompletedAt),
	}
}

const taskColumns = `id, title, done, due_at, created_at, completed_at`

// AddTask inserts a task.
func (s *Store) AddTask(ctx context.Context, t *store.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = s.now().UTC()
	var due *int64
	if t.DueAt != nil {
		v := toUnix(*t.DueAt)
		due = &v
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (id, title, done, due_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Done, due, toUnix(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	return nil
}

// ListTasks returns tasks in insertion order.
func (s *Store) ListTasks(ctx context.Context, includeDone bool) ([]store.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+taskColumns+` FROM tasks WHERE ? OR done = 0 ORDER BY seq ASC`, includeDone)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]store.Task, len(rows))
	for i, r := range rows {
		out[i] = r.task()
	}
	return out, nil
}

// CompleteTask marks a task done. Completing a done task is a no-op.
func (s *Store) CompleteTask(ctx context.Context, id string) (store.Task, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET done = 1, completed_at = COALESCE(completed_at, ?) WHERE id = ?`,
		toUnix(s.now()), id)
	if err != nil {
		return store.Task{}, fmt.Errorf("complete task %s: %w", id, err)
	}
	var r taskRow
	err = s.db.GetContext(ctx, &r, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, store.ErrNotFound
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return r.task(), nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
