package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/nidhogg/skillchat/internal/command"
	"github.com/nidhogg/skillchat/internal/gateway"
	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/skill"
	"go.uber.org/zap"
)

// StatusFunc reports model service connectivity.
type StatusFunc func(ctx context.Context) provider.Status

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine    *agent.Engine
	registry  *skill.Registry
	discovery *skill.Discovery
	commands  *command.Registry
	status    StatusFunc
	gateways  func() []gateway.AdapterStatus
	logger    *zap.Logger
}

// NewHandler creates a new API handler. commands and status may be nil.
func NewHandler(engine *agent.Engine, registry *skill.Registry, discovery *skill.Discovery, commands *command.Registry, status StatusFunc, logger *zap.Logger) *Handler {
	return &Handler{
		engine:    engine,
		registry:  registry,
		discovery: discovery,
		commands:  commands,
		status:    status,
		logger:    logger,
	}
}

// SetGateways reports chat platform adapters under /api/gateways.
func (h *Handler) SetGateways(fn func() []gateway.AdapterStatus) { h.gateways = fn }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.modelStatus)
		r.Get("/gateways", h.gatewayStatus)

		r.Post("/chat", h.chat)
		r.Post("/chat/stream", h.chatStream)

		r.Route("/skills", func(r chi.Router) {
			r.Get("/", h.listSkills)
			r.Get("/search", h.searchSkills)
			r.Get("/counts", h.skillCounts)
			r.Get("/by-tier", h.skillsByTier)
			r.Get("/by-category", h.skillsByCategory)
			r.Post("/reset", h.resetSkills)
			r.Get("/{id}", h.getSkill)
			r.Put("/{id}/enabled", h.setSkillEnabled)
		})
		r.Post("/discover", h.discover)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Delete("/", h.deleteConversation)
			r.Get("/messages", h.listMessages)
			r.Get("/tools", h.exportTools)
			r.Put("/tools", h.importTools)
			r.Post("/tools/load", h.loadTools)
			r.Delete("/tools/{skillID}", h.unloadTool)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"skills":   h.registry.Len(),
		"sessions": h.engine.Sessions().Len(),
	})
}

func (h *Handler) modelStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, provider.Status{Models: []string{}, Error: "no model service configured"})
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	out := []gateway.AdapterStatus{}
	if h.gateways != nil {
		out = append(out, h.gateways()...)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
