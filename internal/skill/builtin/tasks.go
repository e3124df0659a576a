package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/store"
)

type tasksInput struct {
	Action      string `json:"action" jsonschema:"enum=add,enum=list,enum=complete,enum=delete,description=What to do"`
	Title       string `json:"title,omitempty" jsonschema:"description=Task title (add)"`
	Due         string `json:"due,omitempty" jsonschema:"description=Due date YYYY-MM-DD or RFC3339 (add)"`
	ID          string `json:"id,omitempty" jsonschema:"description=Task id (complete and delete)"`
	IncludeDone bool   `json:"include_done,omitempty" jsonschema:"description=Include completed tasks (list)"`
}

func tasksSkill(tasks store.TaskStore) skill.Config {
	return skill.Config{
		ID:          "manage_tasks",
		Name:        "Task Manager",
		Description: "Manage a to-do list: add tasks with optional due dates, list them, mark them complete or delete them.",
		Keywords:    []string{"task", "todo", "list", "complete", "reminder"},
		Tier:        skill.TierCore,
		Category:    skill.CategoryProductivity,
		InputSchema: skill.GenerateSchema[tasksInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in tasksInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			switch in.Action {
			case "add":
				if in.Title == "" {
					return "", fmt.Errorf("title is required to add a task")
				}
				t := &store.Task{Title: in.Title}
				if in.Due != "" {
					due, err := parseDue(in.Due)
					if err != nil {
						return "", err
					}
					t.DueAt = &due
				}
				if err := tasks.AddTask(ctx, t); err != nil {
					return "", err
				}
				return result(map[string]interface{}{"task": t, "message": fmt.Sprintf("Added task %q.", t.Title)})
			case "list", "":
				list, err := tasks.ListTasks(ctx, in.IncludeDone)
				if err != nil {
					return "", err
				}
				return result(map[string]interface{}{"tasks": list, "count": len(list)})
			case "complete":
				t, err := tasks.CompleteTask(ctx, in.ID)
				if err != nil {
					return "", fmt.Errorf("task %s: %w", in.ID, err)
				}
				return result(map[string]interface{}{"task": t, "message": fmt.Sprintf("Completed %q.", t.Title)})
			case "delete":
				if err := tasks.DeleteTask(ctx, in.ID); err != nil {
					return "", fmt.Errorf("task %s: %w", in.ID, err)
				}
				return result(map[string]interface{}{"deleted": in.ID})
			default:
				return "", fmt.Errorf("unknown action %q", in.Action)
			}
		}),
	}
}

func parseDue(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse due date %q", s)
}
