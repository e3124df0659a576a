package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/skillchat/internal/memory"
	"github.com/nidhogg/skillchat/internal/skill"
)

type memoryInput struct {
	Action string `json:"action" jsonschema:"enum=remember,enum=recall,enum=forget"`
	Key    string `json:"key,omitempty" jsonschema:"description=Short name of the fact (remember and forget)"`
	Value  string `json:"value,omitempty" jsonschema:"description=The fact itself (remember)"`
	Query  string `json:"query,omitempty" jsonschema:"description=What to look for (recall); empty lists recent facts"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=5"`
}

func memorySkill(mem memory.Store) skill.Config {
	return skill.Config{
		ID:          "memory",
		Name:        "Memory",
		Description: "Remember facts about the user across conversations, recall them by topic, or forget them.",
		Keywords:    []string{"memory", "remember", "recall", "fact", "forget"},
		Tier:        skill.TierEnhanced,
		Category:    skill.CategoryProductivity,
		InputSchema: skill.GenerateSchema[memoryInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in memoryInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			switch in.Action {
			case "remember":
				if in.Value == "" {
					return "", fmt.Errorf("value is required to remember a fact")
				}
				f, err := mem.Remember(ctx, in.Key, in.Value)
				if err != nil {
					return "", err
				}
				return result(map[string]interface{}{"fact": f, "message": fmt.Sprintf("I'll remember %s.", f.Key)})
			case "recall":
				limit := in.Limit
				if limit <= 0 {
					limit = 5
				}
				facts, err := mem.Recall(ctx, in.Query, limit)
				if err != nil {
					return "", err
				}
				return result(map[string]interface{}{"facts": facts, "count": len(facts)})
			case "forget":
				found, err := mem.Forget(ctx, in.Key)
				if err != nil {
					return "", err
				}
				return result(map[string]interface{}{"forgotten": found, "key": memory.NormalizeKey(in.Key)})
			default:
				return "", fmt.Errorf("unknown action %q", in.Action)
			}
		}),
	}
}
