package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// DecayHalfLife is the age at which a fact's recall score halves.
const DecayHalfLife = 7 * 24 * time.Hour

// minDecay floors the recency multiplier so old facts stay recallable.
const minDecay = 0.2

// keywordSimilarity computes overlap between query tokens and fact text,
// blending a Jaccard ratio with query coverage.
func keywordSimilarity(tokens []string, key, value string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	target := strings.ToLower(key + " " + value)
	targetWords := tokenize(target)
	targetSet := make(map[string]bool, len(targetWords))
	for _, w := range targetWords {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, tok := range tokens {
		if targetSet[tok] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, tok) {
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	union := float64(len(tokens) + len(targetSet) - matched)
	jaccard := float64(matched) / math.Max(union, 1)
	coverage := weighted / float64(len(tokens))
	return 0.4*jaccard + 0.6*coverage
}

// decay returns the recency multiplier for a fact last updated at t.
func decay(t, now time.Time) float64 {
	age := now.Sub(t)
	if age <= 0 {
		return 1
	}
	return math.Max(minDecay, math.Pow(0.5, age.Hours()/DecayHalfLife.Hours()))
}

// tokenize splits text into lowercase word tokens, dropping single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := strings.ToLower(f); len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}

// rank scores facts against query and returns the best limit of them.
// An empty query orders by most recent update.
func rank(facts []Fact, query string, limit int, now time.Time) []Fact {
	if limit <= 0 {
		limit = 10
	}
	tokens := tokenize(query)
	out := make([]Fact, 0, len(facts))
	if len(tokens) == 0 {
		out = append(out, facts...)
		sort.Slice(out, func(i, j int) bool {
			if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
				return out[i].UpdatedAt.After(out[j].UpdatedAt)
			}
			return out[i].Key < out[j].Key
		})
	} else {
		for _, f := range facts {
			s := keywordSimilarity(tokens, f.Key, f.Value)
			if s == 0 {
				continue
			}
			f.Score = s * decay(f.UpdatedAt, now)
			out = append(out, f)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].Key < out[j].Key
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
