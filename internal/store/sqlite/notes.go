package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/store"
)

type noteRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	Content   string `db:"content"`
	Tags      string `db:"tags"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r noteRow) note() store.Note {
	n := store.Note{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Tags:      []string{},
		CreatedAt: fromUnix(r.CreatedAt),
		UpdatedAt: fromUnix(r.UpdatedAt),
	}
	_ = json.Unmarshal([]byte(r.Tags), &n.Tags)
	return n
}

// SaveNote upserts a note. A missing id is generated.
func (s *Store) SaveNote(ctx context.Context, n *store.Note) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	now := toUnix(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, content = excluded.content,
			tags = excluded.tags, updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Content, string(tags), now, now)
	if err != nil {
		return fmt.Errorf("save note %s: %w", n.ID, err)
	}
	saved, err := s.GetNote(ctx, n.ID)
	if err != nil {
		return err
	}
	n.CreatedAt, n.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	return nil
}

// GetNote returns a note by id.
func (s *Store) GetNote(ctx context.Context, id string) (store.Note, error) {
	var r noteRow
	err := s.db.GetContext(ctx, &r, `SELECT id, title, content, tags, created_at, updated_at FROM notes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, store.ErrNotFound
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("get note %s: %w", id, err)
	}
	return r.note(), nil
}

// ListNotes returns matching notes, most recently updated first. Tag
// filtering happens after the query since tags are stored as JSON.
func (s *Store) ListNotes(ctx context.Context, f store.NoteFilter) ([]store.Note, error) {
	like := "%" + f.Query + "%"
	var rows []noteRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, content, tags, created_at, updated_at FROM notes
		WHERE ? = '' OR title LIKE ? OR content LIKE ?
		ORDER BY updated_at DESC`, f.Query, like, like)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	out := []store.Note{}
	for _, r := range rows {
		n := r.note()
		if f.Tag != "" && !hasTag(n.Tags, f.Tag) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
