package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/nidhogg/skillchat/internal/skill"
)

const (
	maxFetchBytes      = 2 << 20
	defaultFetchLength = 20000
)

type webFetchInput struct {
	URL       string `json:"url" jsonschema:"format=uri,description=http or https URL to fetch"`
	Raw       bool   `json:"raw,omitempty" jsonschema:"description=Return the body unconverted instead of markdown"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"minimum=100,default=20000,description=Truncate content to this many characters"`
}

func webFetchSkill(client *http.Client) skill.Config {
	return skill.Config{
		ID:              "web_fetch",
		Name:            "Web Fetch",
		Description:     "Download a web page over HTTP(S) and return its content as markdown.",
		Keywords:        []string{"web", "fetch", "url", "page", "http", "download"},
		Tier:            skill.TierNetwork,
		Category:        skill.CategoryNetwork,
		RequiresNetwork: true,
		InputSchema:     skill.GenerateSchema[webFetchInput](),
		Executor: skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in webFetchInput
			if err := skill.DecodeInput(input, &in); err != nil {
				return "", err
			}
			return fetch(ctx, client, in)
		}),
	}
}

func fetch(ctx context.Context, client *http.Client, in webFetchInput) (string, error) {
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: only http and https are supported", in.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "skillchat/1.0 (+web_fetch)")
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	for _, binary := range []string{"image/", "audio/", "video/", "application/pdf", "application/zip", "application/octet-stream"} {
		if strings.Contains(contentType, binary) {
			return "", fmt.Errorf("unsupported content type %s", contentType)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	content := string(body)
	converted := false
	if !in.Raw && strings.Contains(contentType, "html") {
		if markdown, err := md.NewConverter(u.Host, true, nil).ConvertString(content); err == nil {
			content = markdown
			converted = true
		}
	}

	limit := in.MaxLength
	if limit <= 0 {
		limit = defaultFetchLength
	}
	truncated := false
	if len(content) > limit {
		content = content[:limit]
		truncated = true
	}

	return result(map[string]interface{}{
		"url":          u.String(),
		"status":       resp.StatusCode,
		"content_type": contentType,
		"markdown":     converted,
		"truncated":    truncated,
		"content":      content,
	})
}
