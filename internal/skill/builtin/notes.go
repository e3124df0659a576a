package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/store"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

type saveNoteInput struct {
	ID      string   `json:"id,omitempty" jsonschema:"description=Existing note id to overwrite"`
	Title   string   `json:"title,omitempty" jsonschema:"description=Note title. May instead be given as 'title' in YAML front matter"`
	Content string   `json:"content" jsonschema:"minLength=1,description=Markdown body, optionally starting with --- YAML front matter ---"`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=Tags for later filtering"`
}

type readNotesInput struct {
	ID     string `json:"id,omitempty" jsonschema:"description=Fetch one note by id"`
	Query  string `json:"query,omitempty" jsonschema:"description=Text to search for in titles and bodies"`
	Tag    string `json:"tag,omitempty"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=10"`
	Format string `json:"format,omitempty" jsonschema:"enum=markdown,enum=html,default=markdown"`
}

type noteView struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Content   string   `json:"content,omitempty"`
	HTML      string   `json:"html,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

var markdown = goldmark.New(goldmark.WithExtensions(meta.Meta))

// parseFrontMatter splits YAML front matter from a markdown note and returns
// the metadata map and the remaining body.
func parseFrontMatter(content string) (map[string]interface{}, string, error) {
	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := markdown.Convert([]byte(content), &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", fmt.Errorf("parse markdown: %w", err)
	}
	return meta.Get(pctx), stripFrontMatter(content), nil
}

func stripFrontMatter(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}
	rest := strings.TrimPrefix(content, "---")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}
	return strings.TrimLeft(rest[end+len("\n---"):], "\r\n")
}

func renderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func saveNoteSkill(notes store.NoteStore) skill.Config {
	return skill.Config{
		ID:          "save_note",
		Name:        "Save Note",
		Description: "Save a markdown note with an optional title and tags. YAML front matter (title, tags) is understood.",
		Keywords:    []string{"note", "save", "write", "markdown", "remember"},
		Tier:        skill.TierCore,
		Category:    skill.CategoryProductivity,
		InputSchema: skill.GenerateSchema[saveNoteInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in saveNoteInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			if strings.TrimSpace(in.Content) == "" {
				return "", fmt.Errorf("content is required")
			}
			fm, body, err := parseFrontMatter(in.Content)
			if err != nil {
				return "", err
			}
			n := &store.Note{ID: in.ID, Title: in.Title, Content: body, Tags: in.Tags}
			if n.Title == "" {
				n.Title, _ = fm["title"].(string)
			}
			if n.Title == "" {
				n.Title = firstLine(body)
			}
			if len(n.Tags) == 0 {
				n.Tags = stringList(fm["tags"])
			}
			if err := notes.SaveNote(ctx, n); err != nil {
				return "", err
			}
			return result(map[string]interface{}{
				"id":      n.ID,
				"title":   n.Title,
				"tags":    n.Tags,
				"message": fmt.Sprintf("Saved note %q.", n.Title),
			})
		}),
	}
}

func readNotesSkill(notes store.NoteStore) skill.Config {
	return skill.Config{
		ID:          "read_notes",
		Name:        "Read Notes",
		Description: "Read saved notes: fetch one by id, or list and search them by text or tag. Can render notes to HTML.",
		Keywords:    []string{"note", "read", "list", "search", "find"},
		Tier:        skill.TierCore,
		Category:    skill.CategoryProductivity,
		InputSchema: skill.GenerateSchema[readNotesInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in readNotesInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			var found []store.Note
			if in.ID != "" {
				n, err := notes.GetNote(ctx, in.ID)
				if err != nil {
					return "", fmt.Errorf("note %s: %w", in.ID, err)
				}
				found = []store.Note{n}
			} else {
				var err error
				found, err = notes.ListNotes(ctx, store.NoteFilter{Query: in.Query, Tag: in.Tag, Limit: in.Limit})
				if err != nil {
					return "", err
				}
			}

			views := make([]noteView, 0, len(found))
			for _, n := range found {
				v := noteView{ID: n.ID, Title: n.Title, Tags: n.Tags, UpdatedAt: n.UpdatedAt.Format("2006-01-02 15:04")}
				if in.Format == "html" {
					html, err := renderHTML(n.Content)
					if err != nil {
						return "", err
					}
					v.HTML = html
				} else {
					v.Content = n.Content
				}
				views = append(views, v)
			}
			return result(map[string]interface{}{"notes": views, "count": len(views)})
		}),
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimLeft(s, "# "))
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		return "Untitled"
	}
	return s
}

func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
