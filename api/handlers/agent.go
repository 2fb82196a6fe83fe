package handlers

import (
	"net/http"

	"github.com/BaSui01/agentnet/api"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
	"go.uber.org/zap"
)

// AgentHandler exposes the agent registry over HTTP: registration,
// heartbeats, discovery, and lookup.
type AgentHandler struct {
	registry *registry.AgentRegistry
	logger   *zap.Logger
}

// NewAgentHandler creates an agent registry handler.
func NewAgentHandler(reg *registry.AgentRegistry, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{registry: reg, logger: logger}
}

// RegisterRoutes mounts the agent endpoints on mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agents", h.HandleRegister)
	mux.HandleFunc("GET /v1/agents", h.HandleListAgents)
	mux.HandleFunc("POST /v1/agents/discover", h.HandleDiscover)
	mux.HandleFunc("GET /v1/agents/{id}", h.HandleGetAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", h.HandleDeregister)
	mux.HandleFunc("POST /v1/agents/{id}/heartbeat", h.HandleHeartbeat)
}

// HandleRegister registers a new agent or re-registers an existing one.
// Re-registration with the same agent ID replaces the record wholesale
// but preserves its original registration time.
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var rec registry.AgentRecord
	if err := DecodeJSONBody(w, r, &rec, h.logger); err != nil {
		return
	}

	if err := h.registry.Register(r.Context(), &rec); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	stored, err := h.registry.Get(r.Context(), rec.AgentID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteCreated(w, stored)
}

// HandleHeartbeat records a liveness report from an agent.
func (h *AgentHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent ID is required", h.logger)
		return
	}

	var req api.HeartbeatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	status := registry.HealthStatus(req.Status)
	if req.Status == "" {
		status = registry.HealthHealthy
	}

	if err := h.registry.Heartbeat(r.Context(), agentID, status, req.LoadScore); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}

// HandleDiscover filters registered agents by capability, type, region,
// tags, health floor, and load ceiling. All predicates are ANDed.
func (h *AgentHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	var query registry.DiscoveryQuery
	if err := DecodeJSONBody(w, r, &query, h.logger); err != nil {
		return
	}

	if query.MinHealth != "" && !query.MinHealth.Valid() {
		WriteError(w, types.NewErrorf(types.ErrValidation, "unknown min_health %q", query.MinHealth), h.logger)
		return
	}

	matched := h.registry.Discover(r.Context(), query)
	WriteSuccess(w, matched)
}

// HandleGetAgent returns a single agent record.
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent ID is required", h.logger)
		return
	}

	rec, err := h.registry.Get(r.Context(), agentID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, rec)
}

// HandleListAgents returns every registered agent, offline included.
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.registry.List(r.Context()))
}

// HandleDeregister removes an agent from the registry.
func (h *AgentHandler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent ID is required", h.logger)
		return
	}

	if err := h.registry.Deregister(r.Context(), agentID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}
