package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/format"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type formatCodeInput struct {
	Code     string `json:"code" jsonschema:"minLength=1,description=Source text to format"`
	Language string `json:"language" jsonschema:"enum=go,enum=json,enum=yaml,enum=toml"`
	Minify   bool   `json:"minify,omitempty" jsonschema:"description=Compact output instead of pretty (json only)"`
}

func formatCodeSkill() skill.Config {
	return skill.Config{
		ID:          "format_code",
		Name:        "Code Formatter",
		Description: "Pretty-print or normalize source code and config text: Go, JSON, YAML and TOML.",
		Keywords:    []string{"code", "format", "pretty", "json", "yaml", "toml", "go"},
		Tier:        skill.TierEnhanced,
		Category:    skill.CategoryDeveloper,
		InputSchema: skill.GenerateSchema[formatCodeInput](),
		Executor: skill.ExecutorFunc(func(_ context.Context, input json.RawMessage) (string, error) {
			var in formatCodeInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			out, err := FormatCode(in.Language, in.Code, in.Minify)
			if err != nil {
				return "", err
			}
			return result(map[string]interface{}{"language": strings.ToLower(in.Language), "formatted": out})
		}),
	}
}

// FormatCode formats src in the given language.
func FormatCode(language, src string, minify bool) (string, error) {
	switch strings.ToLower(language) {
	case "go", "golang":
		b, err := format.Source([]byte(src))
		if err != nil {
			return "", fmt.Errorf("format go: %w", err)
		}
		return string(b), nil
	case "json":
		var buf bytes.Buffer
		var err error
		if minify {
			err = json.Compact(&buf, []byte(src))
		} else {
			err = json.Indent(&buf, []byte(src), "", "  ")
		}
		if err != nil {
			return "", fmt.Errorf("format json: %w", err)
		}
		return buf.String(), nil
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(src), &node); err != nil {
			return "", fmt.Errorf("format yaml: %w", err)
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return "", fmt.Errorf("format yaml: %w", err)
		}
		enc.Close()
		return buf.String(), nil
	case "toml":
		var v map[string]interface{}
		if err := toml.Unmarshal([]byte(src), &v); err != nil {
			return "", fmt.Errorf("format toml: %w", err)
		}
		b, err := toml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("format toml: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported language %q (use go, json, yaml or toml)", language)
	}
}
