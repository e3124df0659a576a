package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"go.uber.org/zap"
)

// toolsResponse is a conversation's exported state plus the tool names the
// next request would carry.
type toolsResponse struct {
	toolstate.State
	LoadedSkillNames []string `json:"loadedSkillNames"`
	Tools            []string `json:"tools"`
}

// withManager runs fn while holding the conversation's tool state.
func (h *Handler) withManager(w http.ResponseWriter, r *http.Request, fn func(m *toolstate.Manager)) {
	m, release, err := h.engine.Sessions().Acquire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()
	fn(m)
}

func describe(m *toolstate.Manager) toolsResponse {
	return toolsResponse{
		State:            m.ExportState(),
		LoadedSkillNames: m.GetLoadedSkillNames(),
		Tools:            m.GetToolsForRequest().Names(),
	}
}

func (h *Handler) exportTools(w http.ResponseWriter, r *http.Request) {
	h.withManager(w, r, func(m *toolstate.Manager) {
		writeJSON(w, http.StatusOK, describe(m))
	})
}

func (h *Handler) importTools(w http.ResponseWriter, r *http.Request) {
	var st toolstate.State
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withManager(w, r, func(m *toolstate.Manager) {
		st.ConversationID = m.ConversationID()
		m.ImportState(st)
		writeJSON(w, http.StatusOK, describe(m))
	})
}

type loadRequest struct {
	SkillIDs []string `json:"skill_ids"`
}

func (h *Handler) loadTools(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.withManager(w, r, func(m *toolstate.Manager) {
		added := m.LoadSkills(req.SkillIDs)
		if added == nil {
			added = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"added": added,
			"state": describe(m),
		})
	})
}

func (h *Handler) unloadTool(w http.ResponseWriter, r *http.Request) {
	skillID := chi.URLParam(r, "skillID")
	h.withManager(w, r, func(m *toolstate.Manager) {
		if !m.UnloadSkill(skillID) {
			writeError(w, http.StatusNotFound, "skill not loaded")
			return
		}
		writeJSON(w, http.StatusOK, describe(m))
	})
}

type messageDeleter interface {
	DeleteMessages(ctx context.Context, conversationID string) error
}

// deleteConversation drops tool state and, when the history store supports
// it, the transcript.
func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Sessions().Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d, ok := h.engine.History().(messageDeleter); ok {
		if err := d.DeleteMessages(r.Context(), id); err != nil {
			h.logger.Warn("delete messages failed", zap.String("conversation", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	history := h.engine.History()
	if history == nil {
		writeError(w, http.StatusNotImplemented, "no history store configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := history.GetMessages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
