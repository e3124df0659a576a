package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddTask inserts a task.
func (s *Store) AddTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO tasks (id, title, done, due_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`,
		t.ID, t.Title, t.Done, t.DueAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	return nil
}

// ListTasks returns tasks oldest first.
func (s *Store) ListTasks(ctx context.Context, includeDone bool) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, done, due_at, created_at, completed_at
		FROM tasks
		WHERE $1 OR NOT done
		ORDER BY created_at ASC, seq ASC`, includeDone)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Done, &t.DueAt, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTask marks a task done. Completing a done task is a no-op.
func (s *Store) CompleteTask(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.db.QueryRow(ctx, `
		UPDATE tasks SET done = TRUE, completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1
		RETURNING id, title, done, due_at, created_at, completed_at`, id,
	).Scan(&t.ID, &t.Title, &t.Done, &t.DueAt, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("complete task %s: %w", id, err)
	}
	return t, nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
