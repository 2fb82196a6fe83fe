package handlers

import (
	"net/http"

	"github.com/BaSui01/agentnet/api"
	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/types"
	"go.uber.org/zap"
)

// CoordinationHandler exposes the coordination manager over HTTP:
// session lifecycle, membership, tasks, shared state, and progress.
type CoordinationHandler struct {
	manager *coordination.CoordinationManager
	logger  *zap.Logger
}

// NewCoordinationHandler creates a coordination handler.
func NewCoordinationHandler(manager *coordination.CoordinationManager, logger *zap.Logger) *CoordinationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinationHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the coordination endpoints on mux.
func (h *CoordinationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/coordinations", h.HandleCreate)
	mux.HandleFunc("GET /v1/coordinations", h.HandleList)
	mux.HandleFunc("GET /v1/coordinations/{id}", h.HandleGet)
	mux.HandleFunc("POST /v1/coordinations/{id}/join", h.HandleJoin)
	mux.HandleFunc("POST /v1/coordinations/{id}/tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /v1/coordinations/{id}/state", h.HandleReadState)
	mux.HandleFunc("PUT /v1/coordinations/{id}/state", h.HandleUpdateState)
	mux.HandleFunc("POST /v1/coordinations/{id}/state/cas", h.HandleCompareAndSetState)
	mux.HandleFunc("GET /v1/coordinations/{id}/progress", h.HandleProgress)
	mux.HandleFunc("POST /v1/coordinations/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("GET /v1/tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/assign", h.HandleAssignTask)
	mux.HandleFunc("POST /v1/tasks/{id}/start", h.HandleStartTask)
	mux.HandleFunc("POST /v1/tasks/{id}/result", h.HandleReportResult)
}

// HandleCreate starts a new coordination session.
func (h *CoordinationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req coordination.CreateCoordinationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	session, err := h.manager.CreateCoordination(r.Context(), req)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteCreated(w, session.Snapshot())
}

// HandleList returns every known session, newest first.
func (h *CoordinationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.ListCoordinations(r.Context())
	views := make([]coordination.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.Snapshot())
	}
	WriteSuccess(w, views)
}

// HandleGet returns one session.
func (h *CoordinationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetCoordination(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, session.Snapshot())
}

// HandleJoin adds an agent to a session as participant or observer.
func (h *CoordinationHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")

	var req api.JoinRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id is required"), h.logger)
		return
	}

	role := coordination.Role(req.Role)
	if req.Role == "" {
		role = coordination.RoleParticipant
	}

	if err := h.manager.JoinCoordination(r.Context(), coordinationID, req.AgentID, role); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}

// HandleCreateTask adds a task to the session's graph.
func (h *CoordinationHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")

	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	spec := coordination.TaskSpec{
		TaskType:     req.TaskType,
		Description:  req.Description,
		Dependencies: req.Dependencies,
		RequiredCaps: types.NewCapabilitySet(req.RequiredCaps...),
		Priority:     req.Priority,
	}

	task, err := h.manager.CreateTask(r.Context(), coordinationID, spec)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteCreated(w, task)
}

// HandleGetTask returns one task, looked up across sessions.
func (h *CoordinationHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleAssignTask assigns a task to a participant.
func (h *CoordinationHandler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req api.AssignTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id is required"), h.logger)
		return
	}

	if err := h.manager.AssignTask(r.Context(), taskID, req.AgentID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}

// HandleStartTask marks an assigned task as in progress.
func (h *CoordinationHandler) HandleStartTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req api.StartTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id is required"), h.logger)
		return
	}

	if err := h.manager.StartTask(r.Context(), taskID, req.AgentID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}

// HandleReportResult records a task outcome from an assignee. For
// consensus tasks a success report is a vote; for auction tasks a
// report during bidding is a bid.
func (h *CoordinationHandler) HandleReportResult(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req api.ReportResultRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id is required"), h.logger)
		return
	}

	err := h.manager.ReportTaskResult(r.Context(), taskID, req.AgentID, req.Success, req.Result, req.FailureReason)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}

// HandleReadState returns shared-state entries. With ?key= parameters
// only those keys are returned; absent keys are simply omitted.
func (h *CoordinationHandler) HandleReadState(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")
	keys := r.URL.Query()["key"]

	entries, err := h.manager.ReadSharedState(r.Context(), coordinationID, keys...)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, entries)
}

// HandleUpdateState applies last-write-wins updates to shared state.
func (h *CoordinationHandler) HandleUpdateState(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")

	var req api.StateUpdateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id is required"), h.logger)
		return
	}
	if len(req.Updates) == 0 {
		WriteError(w, types.NewError(types.ErrValidation, "updates is empty"), h.logger)
		return
	}

	versions, err := h.manager.UpdateSharedState(r.Context(), coordinationID, req.AgentID, req.Updates)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.StateUpdateResponse{Versions: versions})
}

// HandleCompareAndSetState performs an optimistic write on one key.
// A version mismatch returns CONFLICT carrying the live version.
func (h *CoordinationHandler) HandleCompareAndSetState(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")

	var req api.StateCASRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" || req.Key == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id and key are required"), h.logger)
		return
	}

	version, err := h.manager.CompareAndSetSharedState(r.Context(), coordinationID, req.AgentID, req.Key, req.Value, req.ExpectedVersion)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.StateCASResponse{Version: version})
}

// HandleProgress aggregates the session's task completion state.
func (h *CoordinationHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.manager.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, snapshot)
}

// HandleCancel cancels a session and blocks its remaining tasks.
func (h *CoordinationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	coordinationID := r.PathValue("id")

	var req api.CancelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.manager.CancelCoordination(r.Context(), coordinationID, req.Reason); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, nil)
}
