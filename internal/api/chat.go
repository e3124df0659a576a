package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/nidhogg/skillchat/internal/command"
	"github.com/nidhogg/skillchat/internal/provider"
	"go.uber.org/zap"
)

// chatRequest accepts either a single new message or a full transcript.
type chatRequest struct {
	ConversationID string             `json:"conversation_id"`
	Model          string             `json:"model,omitempty"`
	Message        string             `json:"message,omitempty"`
	Messages       []provider.Message `json:"messages,omitempty"`
	LoadedSkills   []string           `json:"loaded_skills,omitempty"`
}

func (c chatRequest) toEngine() agent.ChatRequest {
	msgs := c.Messages
	if c.Message != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: c.Message})
	}
	return agent.ChatRequest{
		ConversationID: c.ConversationID,
		Model:          c.Model,
		Messages:       msgs,
		LoadedSkills:   c.LoadedSkills,
	}
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if res, ok, err := h.runCommand(r.Context(), req); ok {
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	result, err := h.engine.Chat(r.Context(), req.toEngine(), nil)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrEmptyConversation) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("chat failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// chatStream runs a turn and relays engine events as server-sent events.
func (h *Handler) chatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	engineReq := req.toEngine()
	if len(engineReq.Messages) == 0 {
		writeError(w, http.StatusBadRequest, agent.ErrEmptyConversation.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	if res, ok, err := h.runCommand(r.Context(), req); ok {
		if err != nil {
			send("error", map[string]string{"error": err.Error()})
			return
		}
		send(string(agent.EventText), agent.Event{Type: agent.EventText, Content: res.Content})
		send(string(agent.EventDone), agent.Event{Type: agent.EventDone, Result: res})
		return
	}

	_, err := h.engine.Chat(r.Context(), engineReq, func(ev agent.Event) {
		send(string(ev.Type), ev)
	})
	if err != nil {
		h.logger.Warn("chat stream failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		send("error", map[string]string{"error": err.Error()})
	}
}

// runCommand handles a slash command sent as the message of a turn. ok is
// false when the request is ordinary chat.
func (h *Handler) runCommand(ctx context.Context, req chatRequest) (*agent.ChatResult, bool, error) {
	if h.commands == nil || len(req.Messages) > 0 || !command.IsCommand(req.Message) {
		return nil, false, nil
	}
	id := req.ConversationID
	if id == "" {
		id = uuid.New().String()
	}
	mgr, release, err := h.engine.Sessions().Acquire(ctx, id)
	if err != nil {
		return nil, true, err
	}
	defer release()

	if len(req.LoadedSkills) > 0 {
		mgr.LoadSkills(req.LoadedSkills)
	}
	res, err := h.commands.Dispatch(ctx, req.Message, &command.CommandContext{ConversationID: id, Manager: mgr})
	if err != nil {
		return nil, true, err
	}
	return &agent.ChatResult{
		ConversationID: id,
		Content:        res.Content,
		ToolCalls:      []agent.ToolCallRecord{},
		LoadedSkills:   mgr.GetLoadedSkillIDs(),
	}, true, nil
}
