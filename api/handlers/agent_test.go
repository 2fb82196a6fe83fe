package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/agentnet/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAgentTestServer(t *testing.T) (*registry.AgentRegistry, *http.ServeMux) {
	t.Helper()
	reg := registry.NewAgentRegistry(zap.NewNop())
	mux := http.NewServeMux()
	NewAgentHandler(reg, zap.NewNop()).RegisterRoutes(mux)
	return reg, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestAgentHandler_Register(t *testing.T) {
	_, mux := newAgentTestServer(t)

	w := doJSON(t, mux, http.MethodPost, "/v1/agents", `{
		"agent_id": "a1",
		"name": "worker one",
		"agent_type": "worker",
		"capabilities": ["parse", "summarize"],
		"endpoint": "http://a1.local:8080",
		"load_score": 0.2
	}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)

	rec := resp.Data.(map[string]any)
	assert.Equal(t, "a1", rec["agent_id"])
	assert.Equal(t, "healthy", rec["health_status"])
}

func TestAgentHandler_RegisterValidation(t *testing.T) {
	_, mux := newAgentTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing agent_id", `{"capabilities":["parse"],"endpoint":"http://x:1"}`},
		{"missing capabilities", `{"agent_id":"a1","endpoint":"http://x:1"}`},
		{"malformed endpoint", `{"agent_id":"a1","capabilities":["parse"],"endpoint":"not a url"}`},
		{"load out of range", `{"agent_id":"a1","capabilities":["parse"],"endpoint":"http://x:1","load_score":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, mux, http.MethodPost, "/v1/agents", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, "VALIDATION", resp.Error.Code)
		})
	}
}

func TestAgentHandler_GetAndList(t *testing.T) {
	_, mux := newAgentTestServer(t)

	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a1","capabilities":["parse"],"endpoint":"http://a1:8080"}`)
	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a2","capabilities":["embed"],"endpoint":"http://a2:8080"}`)

	w := doJSON(t, mux, http.MethodGet, "/v1/agents/a1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "a1", resp.Data.(map[string]any)["agent_id"])

	w = doJSON(t, mux, http.MethodGet, "/v1/agents/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp = decodeEnvelope(t, w)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	w = doJSON(t, mux, http.MethodGet, "/v1/agents", "")
	assert.Equal(t, http.StatusOK, w.Code)
	resp = decodeEnvelope(t, w)
	assert.Len(t, resp.Data.([]any), 2)
}

func TestAgentHandler_Heartbeat(t *testing.T) {
	reg, mux := newAgentTestServer(t)

	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a1","capabilities":["parse"],"endpoint":"http://a1:8080"}`)

	w := doJSON(t, mux, http.MethodPost, "/v1/agents/a1/heartbeat",
		`{"status":"degraded","load_score":0.9}`)
	assert.Equal(t, http.StatusOK, w.Code)

	rec, err := reg.Get(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, registry.HealthDegraded, rec.HealthStatus)
	assert.Equal(t, 0.9, rec.LoadScore)

	// Empty status defaults to healthy.
	w = doJSON(t, mux, http.MethodPost, "/v1/agents/a1/heartbeat", `{"load_score":0.1}`)
	assert.Equal(t, http.StatusOK, w.Code)

	rec, err = reg.Get(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, registry.HealthHealthy, rec.HealthStatus)
}

func TestAgentHandler_HeartbeatErrors(t *testing.T) {
	_, mux := newAgentTestServer(t)

	w := doJSON(t, mux, http.MethodPost, "/v1/agents/ghost/heartbeat", `{"status":"healthy"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a1","capabilities":["parse"],"endpoint":"http://a1:8080"}`)

	w = doJSON(t, mux, http.MethodPost, "/v1/agents/a1/heartbeat", `{"status":"sparkling"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", decodeEnvelope(t, w).Error.Code)
}

func TestAgentHandler_Discover(t *testing.T) {
	_, mux := newAgentTestServer(t)

	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a1","capabilities":["parse","summarize"],"endpoint":"http://a1:8080","load_score":0.2}`)
	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a2","capabilities":["parse"],"endpoint":"http://a2:8080","load_score":0.8}`)
	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a3","capabilities":["embed"],"endpoint":"http://a3:8080"}`)

	w := doJSON(t, mux, http.MethodPost, "/v1/agents/discover", `{"capabilities":["parse"]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeEnvelope(t, w)
	matched := resp.Data.([]any)
	require.Len(t, matched, 2)
	// Sorted by ascending load.
	assert.Equal(t, "a1", matched[0].(map[string]any)["agent_id"])
	assert.Equal(t, "a2", matched[1].(map[string]any)["agent_id"])

	w = doJSON(t, mux, http.MethodPost, "/v1/agents/discover", `{"capabilities":["parse"],"max_load":0.5}`)
	resp = decodeEnvelope(t, w)
	require.Len(t, resp.Data.([]any), 1)

	// No matches is an empty list, not an error.
	w = doJSON(t, mux, http.MethodPost, "/v1/agents/discover", `{"capabilities":["translate"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeEnvelope(t, w).Data)

	w = doJSON(t, mux, http.MethodPost, "/v1/agents/discover", `{"min_health":"sparkling"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentHandler_Deregister(t *testing.T) {
	_, mux := newAgentTestServer(t)

	doJSON(t, mux, http.MethodPost, "/v1/agents",
		`{"agent_id":"a1","capabilities":["parse"],"endpoint":"http://a1:8080"}`)

	w := doJSON(t, mux, http.MethodDelete, "/v1/agents/a1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/v1/agents/a1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, mux, http.MethodDelete, "/v1/agents/a1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
