package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/skillchat/internal/skill"
)

// listSkills returns the catalog, optionally filtered by tier, category and
// enabled state.
func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier, category, ok := parseFilters(w, q.Get("tier"), q.Get("category"))
	if !ok {
		return
	}
	var enabled *bool
	if v := q.Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "enabled must be true or false")
			return
		}
		enabled = &b
	}

	out := []skill.Descriptor{}
	for _, d := range h.registry.GetAllSkills() {
		if tier != "" && d.Tier != tier {
			continue
		}
		if category != "" && d.Category != category {
			continue
		}
		if enabled != nil && d.Enabled != *enabled {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) searchSkills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier, category, ok := parseFilters(w, q.Get("tier"), q.Get("category"))
	if !ok {
		return
	}
	opts := skill.SearchOptions{Tier: tier, Category: category}
	if v := q.Get("enabled_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "enabled_only must be true or false")
			return
		}
		opts.EnabledOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	results := h.registry.Search(q.Get("q"), opts)
	if results == nil {
		results = []skill.Descriptor{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) skillCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.GetSkillCounts())
}

func (h *Handler) skillsByTier(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.GetSkillsByTier())
}

func (h *Handler) skillsByCategory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.GetSkillsByCategory())
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	d, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setSkillEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if !h.registry.SetEnabled(id, *req.Enabled) {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	d, _ := h.registry.Get(id)
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) resetSkills(w http.ResponseWriter, r *http.Request) {
	h.registry.ResetToDefaults()
	writeJSON(w, http.StatusOK, h.registry.GetAllSkills())
}

type discoverRequest struct {
	Query    string `json:"query"`
	Category string `json:"category"`
}

// discover runs a discovery search without touching conversation state.
func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.discovery.Discover(req.Query, req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseFilters(w http.ResponseWriter, tierStr, categoryStr string) (skill.Tier, skill.Category, bool) {
	var (
		tier     skill.Tier
		category skill.Category
		ok       bool
	)
	if tierStr != "" {
		if tier, ok = skill.ParseTier(tierStr); !ok {
			writeError(w, http.StatusBadRequest, "unknown tier "+strconv.Quote(tierStr))
			return "", "", false
		}
	}
	if categoryStr != "" {
		if category, ok = skill.ParseCategory(categoryStr); !ok {
			writeError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(categoryStr))
			return "", "", false
		}
	}
	return tier, category, true
}
