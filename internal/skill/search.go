package skill

import (
	"sort"
	"strings"
)

// DefaultSearchLimit applies when SearchOptions.Limit is not positive.
const DefaultSearchLimit = 10

// Per-token relevance weights.
const (
	scoreNameExact       = 100
	scoreNameContains    = 50
	scoreKeywordExact    = 40
	scoreKeywordContains = 20
	scoreDescription     = 10
)

// SearchOptions filters and bounds a registry search.
type SearchOptions struct {
	Category    Category
	Tier        Tier
	EnabledOnly bool
	Limit       int
}

// Search ranks descriptors against query. A blank query applies only the
// filters and returns matches in registration order. Otherwise results are
// ordered by descending score, ties broken by ascending name, and descriptors
// scoring zero are dropped.
func (r *Registry) Search(query string, opts SearchOptions) []Descriptor {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	candidates := r.collect(func(d *Descriptor) bool {
		if opts.Category != "" && d.Category != opts.Category {
			return false
		}
		if opts.Tier != "" && d.Tier != opts.Tier {
			return false
		}
		if opts.EnabledOnly && !d.Enabled {
			return false
		}
		return true
	})

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates
	}
	tokens := strings.Fields(q)

	type scored struct {
		d     Descriptor
		score int
	}
	var results []scored
	for _, d := range candidates {
		if s := Score(d, tokens); s > 0 {
			results = append(results, scored{d: d, score: s})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].d.Name < results[j].d.Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]Descriptor, len(results))
	for i, s := range results {
		out[i] = s.d
	}
	return out
}

// Score sums the relevance of d over lower-cased query tokens.
func Score(d Descriptor, tokens []string) int {
	name := strings.ToLower(d.Name)
	desc := strings.ToLower(d.Description)
	keywords := make([]string, len(d.Keywords))
	for i, k := range d.Keywords {
		keywords[i] = strings.ToLower(k)
	}

	total := 0
	for _, tok := range tokens {
		if name == tok {
			total += scoreNameExact
		} else if strings.Contains(name, tok) {
			total += scoreNameContains
		}

		exact, partial := false, false
		for _, k := range keywords {
			if k == tok {
				exact = true
				break
			}
			if strings.Contains(k, tok) {
				partial = true
			}
		}
		if exact {
			total += scoreKeywordExact
		} else if partial {
			total += scoreKeywordContains
		}

		if strings.Contains(desc, tok) {
			total += scoreDescription
		}
	}
	return total
}
