package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a note or task id does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Note is a markdown note saved by the notes skills.
type Note struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NoteFilter narrows ListNotes. Query matches title or content,
// case-insensitively.
type NoteFilter struct {
	Query string
	Tag   string
	Limit int
}

// NoteStore persists notes.
type NoteStore interface {
	SaveNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, id string) (Note, error)
	ListNotes(ctx context.Context, f NoteFilter) ([]Note, error)
	DeleteNote(ctx context.Context, id string) error
}

// Task is a to-do item managed by the tasks skill.
type Task struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Done        bool       `json:"done" db:"done"`
	DueAt       *time.Time `json:"due_at,omitempty" db:"due_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TaskStore persists tasks.
type TaskStore interface {
	AddTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, includeDone bool) ([]Task, error)
	CompleteTask(ctx context.Context, id string) (Task, error)
	DeleteTask(ctx context.Context, id string) error
}

func (f NoteFilter) limit() int {
	if f.Limit <= 0 {
		return 20
	}
	return f.Limit
}

func (f NoteFilter) match(n Note) bool {
	if f.Tag != "" {
		found := false
		for _, t := range n.Tags {
			if strings.EqualFold(t, f.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Content), q)
	}
	return true
}
