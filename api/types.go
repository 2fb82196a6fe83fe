package api

import (
	"encoding/json"
	"time"
)

// Response is the envelope every JSON endpoint returns.
type Response struct {
	// Whether the request succeeded
	Success bool `json:"success"`
	// Response payload, present on success
	Data interface{} `json:"data,omitempty"`
	// Error details, present on failure
	Error *ErrorInfo `json:"error,omitempty"`
	// Server timestamp
	Timestamp time.Time `json:"timestamp"`
	// Request ID for tracing, echoed from X-Request-ID when present
	RequestID string `json:"request_id,omitempty"`
}

// ErrorInfo carries the error payload inside a failed Response.
type ErrorInfo struct {
	// Machine-readable error code (e.g. NOT_FOUND, VALIDATION)
	Code string `json:"code"`
	// Human-readable error message
	Message string `json:"message"`
	// Optional additional detail
	Details string `json:"details,omitempty"`
	// Whether the caller may retry the request
	Retryable bool `json:"retryable,omitempty"`
	// HTTP status the error maps to. Carried internally, not serialized.
	HTTPStatus int `json:"-"`
}

// HeartbeatRequest is the body of POST /v1/agents/{id}/heartbeat.
type HeartbeatRequest struct {
	// Self-reported health: healthy, degraded, or unhealthy
	Status string `json:"status"`
	// Current load in [0.0, 1.0]
	LoadScore float64 `json:"load_score"`
}

// JoinRequest is the body of POST /v1/coordinations/{id}/join.
type JoinRequest struct {
	AgentID string `json:"agent_id"`
	// Membership role: participant or observer. Defaults to participant.
	Role string `json:"role,omitempty"`
}

// CreateTaskRequest is the body of POST /v1/coordinations/{id}/tasks.
type CreateTaskRequest struct {
	TaskType     string   `json:"task_type"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	RequiredCaps []string `json:"required_capabilities,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

// AssignTaskRequest is the body of POST /v1/tasks/{id}/assign.
type AssignTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// StartTaskRequest is the body of POST /v1/tasks/{id}/start.
type StartTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// ReportResultRequest is the body of POST /v1/tasks/{id}/result.
type ReportResultRequest struct {
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`
	// Result payload, opaque to the server. Only meaningful on success.
	Result json.RawMessage `json:"result,omitempty"`
	// Why the task failed. Only meaningful on failure.
	FailureReason string `json:"failure_reason,omitempty"`
}

// StateUpdateRequest is the body of PUT /v1/coordinations/{id}/state.
type StateUpdateRequest struct {
	AgentID string `json:"agent_id"`
	// Keys to write. Each write bumps that key's version.
	Updates map[string]json.RawMessage `json:"updates"`
}

// StateUpdateResponse returns the new version of every written key.
type StateUpdateResponse struct {
	Versions map[string]int64 `json:"versions"`
}

// StateCASRequest is the body of POST /v1/coordinations/{id}/state/cas.
// The write succeeds only if the key's current version matches
// ExpectedVersion; a mismatch returns CONFLICT with the live version.
type StateCASRequest struct {
	AgentID         string          `json:"agent_id"`
	Key             string          `json:"key"`
	Value           json.RawMessage `json:"value"`
	ExpectedVersion int64           `json:"expected_version"`
}

// StateCASResponse returns the version after a successful CAS write.
type StateCASResponse struct {
	Version int64 `json:"version"`
}

// CancelRequest is the body of POST /v1/coordinations/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// VersionInfo is the payload of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}
