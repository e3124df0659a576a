package builtin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

type parseDataInput struct {
	Data   string `json:"data" jsonschema:"minLength=1,description=Raw CSV, JSON, YAML or TOML text"`
	Format string `json:"format,omitempty" jsonschema:"enum=auto,enum=csv,enum=json,enum=yaml,enum=toml,default=auto"`
	Query  string `json:"query,omitempty" jsonschema:"description=Optional GJSON path applied to the parsed data, e.g. users.#.name or items.#(price>10)"`
}

func parseDataSkill() skill.Config {
	return skill.Config{
		ID:          "parse_data",
		Name:        "Data Parser",
		Description: "Parse CSV, JSON, YAML or TOML into JSON and optionally extract values with a GJSON path query.",
		Keywords:    []string{"parse", "data", "csv", "json", "yaml", "toml", "query"},
		Tier:        skill.TierEnhanced,
		Category:    skill.CategoryDeveloper,
		InputSchema: skill.GenerateSchema[parseDataInput](),
		Executor: skill.ExecutorFunc(func(_ context.Context, input json.RawMessage) (string, error) {
			var in parseDataInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			format, doc, err := ParseData(in.Format, in.Data)
			if err != nil {
				return "", err
			}
			out := map[string]interface{}{"format": format}
			if in.Query != "" {
				res := gjson.GetBytes(doc, in.Query)
				if !res.Exists() {
					return "", fmt.Errorf("query %q matched nothing", in.Query)
				}
				out["result"] = json.RawMessage(res.Raw)
			} else {
				out["data"] = json.RawMessage(doc)
			}
			return result(out)
		}),
	}
}

// ParseData decodes data in the given format ("" or "auto" to detect) and
// returns the detected format and the document as JSON.
func ParseData(format, data string) (string, []byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "auto" {
		format = detectFormat(data)
	}

	var v interface{}
	switch format {
	case "json":
		if !json.Valid([]byte(data)) {
			return "", nil, fmt.Errorf("parse json: invalid document")
		}
		return format, []byte(data), nil
	case "yaml", "yml":
		format = "yaml"
		if err := yaml.Unmarshal([]byte(data), &v); err != nil {
			return "", nil, fmt.Errorf("parse yaml: %w", err)
		}
		v = normalizeYAML(v)
	case "toml":
		var m map[string]interface{}
		if err := toml.Unmarshal([]byte(data), &m); err != nil {
			return "", nil, fmt.Errorf("parse toml: %w", err)
		}
		v = m
	case "csv":
		rows, err := parseCSV(data)
		if err != nil {
			return "", nil, err
		}
		v = rows
	default:
		return "", nil, fmt.Errorf("unsupported format %q", format)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s as json: %w", format, err)
	}
	return format, b, nil
}

func detectFormat(data string) string {
	s := strings.TrimSpace(data)
	switch {
	case json.Valid([]byte(s)):
		return "json"
	case strings.HasPrefix(s, "[") || strings.Contains(s, " = "):
		return "toml"
	}
	firstLine := s
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		firstLine = s[:i]
	}
	if strings.Count(firstLine, ",") > 0 && !strings.Contains(firstLine, ": ") {
		return "csv"
	}
	return "yaml"
}

// parseCSV turns a CSV with a header row into a list of objects.
func parseCSV(data string) ([]map[string]string, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return []map[string]string{}, nil
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normalizeYAML converts map[interface{}]interface{} nodes to string-keyed
// maps so the value can be encoded as JSON.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	}
	return v
}
