package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveNote upserts a note. A missing id is generated.
func (s *Store) SaveNote(ctx context.Context, n *Note) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO notes (id, title, content, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		n.ID, n.Title, n.Content, n.Tags,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save note %s: %w", n.ID, err)
	}
	return nil
}

// GetNote returns a note by id.
func (s *Store) GetNote(ctx context.Context, id string) (Note, error) {
	var n Note
	err := s.db.QueryRow(ctx, `
		SELECT id, title, content, tags, created_at, updated_at
		FROM notes WHERE id = $1`, id,
	).Scan(&n.ID, &n.Title, &n.Content, &n.Tags, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns matching notes, most recently updated first.
func (s *Store) ListNotes(ctx context.Context, f NoteFilter) ([]Note, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, content, tags, created_at, updated_at
		FROM notes
		WHERE ($1 = '' OR title ILIKE '%' || $1 || '%' OR content ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR $2 = ANY(tags))
		ORDER BY updated_at DESC
		LIMIT $3`, f.Query, f.Tag, f.limit())
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := []Note{}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.Tags, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
