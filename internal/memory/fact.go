// Package memory holds the backends of the memory skill: a key/value fact
// store with keyword recall, optionally backed by Redis, and a semantic
// variant that indexes facts in Qdrant.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyKey is returned when a fact has no key.
var ErrEmptyKey = fmt.Errorf("memory key is required")

// Fact is one remembered key/value pair.
type Fact struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	AccessCount int       `json:"access_count"`
	Score       float64   `json:"score,omitempty"`
}

// Store is implemented by every memory backend.
type Store interface {
	// Remember upserts a fact by key and returns the stored version.
	Remember(ctx context.Context, key, value string) (Fact, error)
	// Recall ranks facts against query. An empty query lists the most
	// recently updated facts.
	Recall(ctx context.Context, query string, limit int) ([]Fact, error)
	// Forget deletes a fact, reporting whether it existed.
	Forget(ctx context.Context, key string) (bool, error)
}

// NormalizeKey trims and lower-cases a fact key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
