package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/skillchat/internal/embedding"
	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Model        ModelConfig        `json:"model"`
	Skills       SkillsConfig       `json:"skills"`
	Sessions     SessionsConfig     `json:"sessions"`
	Database     DatabaseConfig     `json:"database"`
	Embedding    embedding.Config   `json:"embedding"`
	Integrations IntegrationsConfig `json:"integrations"`
}

type ServerConfig struct {
	Port      int    `json:"port"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // console|json
	// ProfileDir holds SYSTEM.md, STYLE.md and USER.md overrides of the
	// system prompt.
	ProfileDir string `json:"profile_dir"`
}

type ProviderConfig struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"` // ollama|openai|anthropic
	Name       string            `json:"name"`
	Endpoint   string            `json:"endpoint"`
	APIKey     string            `json:"api_key"`
	Models     []string          `json:"models,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	TimeoutSec int                  `json:"timeout_sec"`
	Retry      provider.RetryConfig `json:"retry"`
}

// Timeout converts TimeoutSec, defaulting to two minutes.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// Provider converts the file form into the provider package's config.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Models:   p.Models,
		Extra:    p.Extra,
		Timeout:  p.Timeout(),
		Retry:    p.Retry,
	}
}

type ModelConfig struct {
	Default   string   `json:"default"`
	Fallbacks []string `json:"fallbacks,omitempty"` // provider ids
	MaxRounds int      `json:"max_rounds"`
	// ContextTokens enables history compression when positive.
	ContextTokens int `json:"context_tokens"`
}

type SkillsConfig struct {
	SettingsFile   string   `json:"settings_file"`
	Enabled        []string `json:"enabled,omitempty"`
	Disabled       []string `json:"disabled,omitempty"`
	NetworkEnabled bool     `json:"network_enabled"`
}

type SessionsConfig struct {
	TTLMinutes       int `json:"ttl_minutes"`
	MaxConversations int `json:"max_conversations"`
	MaxHistory       int `json:"max_history"`
	SweepSeconds     int `json:"sweep_seconds"`
}

// TTL converts TTLMinutes.
func (s SessionsConfig) TTL() time.Duration { return time.Duration(s.TTLMinutes) * time.Minute }

// SweepInterval converts SweepSeconds, defaulting to one minute.
func (s SessionsConfig) SweepInterval() time.Duration {
	if s.SweepSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.SweepSeconds) * time.Second
}

type DatabaseConfig struct {
	Driver     string                   `json:"driver"` // memory|sqlite|postgres
	SQLite     SQLiteConfig             `json:"sqlite"`
	Postgres   PostgresConfig           `json:"postgres"`
	Redis      RedisConfig              `json:"redis"`
	Qdrant     vectorstore.QdrantConfig `json:"qdrant"`
	// Migrations overrides the embedded PostgreSQL schema with a directory.
	Migrations string `json:"migrations,omitempty"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type IntegrationsConfig struct {
	Slack   TokenConfig       `json:"slack"`
	Discord TokenConfig       `json:"discord"`
	MCP     []MCPServerConfig `json:"mcp"`
}

// MCPServerConfig names a Model Context Protocol server reachable over SSE.
type MCPServerConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TokenConfig holds a chat platform's credentials. With Listen set the
// server also answers messages sent to the bot on that platform; Slack then
// needs an app-level token for Socket Mode.
type TokenConfig struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token,omitempty"`
	Listen   bool   `json:"listen"`
}

// Default returns a runnable local-first configuration: one Ollama
// provider, in-process storage and no integrations.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info", LogFormat: "console"},
		Providers: []ProviderConfig{{
			ID:       "ollama",
			Type:     "ollama",
			Name:     "Ollama",
			Endpoint: "http://localhost:11434",
		}},
		Model:    ModelConfig{Default: "llama3.2", MaxRounds: 8, ContextTokens: 8192},
		Sessions: SessionsConfig{TTLMinutes: 60, MaxConversations: 1000},
		Database: DatabaseConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{Path: "data/skillchat.db"},
		},
		Embedding: embedding.Config{Provider: "ollama", Endpoint: "http://localhost:11434", Model: "nomic-embed-text", Dimension: 768},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON config file over Default() and substitutes environment
// variable references. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal([]byte(Expand(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("database.postgres.dsn is required for the postgres driver")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if c.Sessions.TTLMinutes < 0 || c.Sessions.MaxConversations < 0 || c.Sessions.MaxHistory < 0 {
		return fmt.Errorf("sessions values must not be negative")
	}
	if s := c.Integrations.Slack; s.Listen && (s.BotToken == "" || s.AppToken == "") {
		return fmt.Errorf("integrations.slack.listen needs bot_token and app_token")
	}
	if d := c.Integrations.Discord; d.Listen && d.BotToken == "" {
		return fmt.Errorf("integrations.discord.listen needs bot_token")
	}
	for _, m := range c.Integrations.MCP {
		if m.Name == "" || m.URL == "" {
			return fmt.Errorf("mcp servers need a name and url")
		}
	}
	return nil
}
