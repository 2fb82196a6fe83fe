package registry

import (
	"net/url"
	"time"

	"github.com/BaSui01/agentnet/types"
)

// HealthStatus represents the health of a registered agent.
type HealthStatus string

const (
	// HealthHealthy indicates the agent is live and fully operational.
	HealthHealthy HealthStatus = "healthy"
	// HealthDegraded indicates the agent is live but with reduced capacity,
	// either self-reported or inferred from missed heartbeats.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnhealthy indicates the agent has missed enough heartbeats that
	// it should not receive new work.
	HealthUnhealthy HealthStatus = "unhealthy"
	// HealthOffline indicates the agent is gone. Offline records are kept
	// for audit but never returned by discovery.
	HealthOffline HealthStatus = "offline"
)

// healthRanks orders statuses for discovery filtering and sorting.
// Higher is healthier. Offline ranks zero and never satisfies any floor.
var healthRanks = map[HealthStatus]int{
	HealthHealthy:   3,
	HealthDegraded:  2,
	HealthUnhealthy: 1,
	HealthOffline:   0,
}

// Rank returns the ordering rank of the status. Unknown statuses rank zero.
func (s HealthStatus) Rank() int {
	return healthRanks[s]
}

// Valid reports whether the status is one of the four known values.
func (s HealthStatus) Valid() bool {
	_, ok := healthRanks[s]
	return ok
}

// AgentRecord is the registry's source-of-truth entry for one agent.
type AgentRecord struct {
	// AgentID uniquely identifies the agent. Immutable once registered.
	AgentID string `json:"agent_id"`

	// Name is a human-readable display name.
	Name string `json:"name,omitempty"`

	// AgentType is a free-form type tag (e.g. "worker", "coordinator").
	AgentType string `json:"agent_type,omitempty"`

	// Capabilities is the set of capability tags the agent declares.
	// Replaced wholesale on re-registration.
	Capabilities types.CapabilitySet `json:"capabilities"`

	// Endpoint is the address the agent can be invoked at.
	Endpoint string `json:"endpoint"`

	// Region is an optional locality tag.
	Region string `json:"region,omitempty"`

	// Tags are free-form labels used for discovery filtering.
	Tags types.CapabilitySet `json:"tags,omitempty"`

	// HealthStatus is the agent's current health.
	HealthStatus HealthStatus `json:"health_status"`

	// LoadScore is the agent's reported load in [0.0, 1.0].
	LoadScore float64 `json:"load_score"`

	// LastHeartbeatAt is when the last heartbeat arrived. Monotonic:
	// concurrent heartbeats never move it backwards.
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`

	// RegisteredAt is when the agent first registered. Preserved across
	// re-registrations with the same AgentID.
	RegisteredAt time.Time `json:"registered_at"`
}

// Clone returns a deep copy of the record. Discovery and Get always hand
// out copies so readers never observe a half-updated record.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Capabilities = r.Capabilities.Clone()
	c.Tags = r.Tags.Clone()
	return &c
}

// validate checks the invariants Register enforces before any mutation.
func (r *AgentRecord) validate() error {
	if r == nil {
		return types.NewError(types.ErrValidation, "agent record is nil")
	}
	if r.AgentID == "" {
		return types.NewError(types.ErrValidation, "agent_id is empty")
	}
	if len(r.Capabilities) == 0 {
		return types.NewError(types.ErrValidation, "capabilities is empty")
	}
	u, err := url.Parse(r.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return types.NewErrorf(types.ErrValidation, "endpoint %q is malformed", r.Endpoint)
	}
	if r.LoadScore < 0 || r.LoadScore > 1 {
		return types.NewErrorf(types.ErrValidation, "load_score %v outside [0.0, 1.0]", r.LoadScore)
	}
	if r.HealthStatus != "" && !r.HealthStatus.Valid() {
		return types.NewErrorf(types.ErrValidation, "unknown health_status %q", r.HealthStatus)
	}
	return nil
}

// DiscoveryQuery filters registered agents. All predicates are ANDed; an
// agent must carry every listed capability and tag to match.
type DiscoveryQuery struct {
	// Capabilities the agent must have all of. Empty means no capability filter.
	Capabilities types.CapabilitySet `json:"capabilities,omitempty"`

	// AgentType, when set, requires an exact match.
	AgentType string `json:"agent_type,omitempty"`

	// Region, when set, requires an exact match.
	Region string `json:"region,omitempty"`

	// Tags the agent must have all of.
	Tags types.CapabilitySet `json:"tags,omitempty"`

	// MinHealth is the health floor. Defaults to HealthHealthy when empty.
	// Offline agents never match regardless of the floor.
	MinHealth HealthStatus `json:"min_health,omitempty"`

	// MaxLoad, when set, excludes agents with a higher load score. A
	// ceiling of zero matches only idle agents; nil disables the filter.
	MaxLoad *float64 `json:"max_load,omitempty"`
}

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentDeregistered EventType = "agent_deregistered"
	EventStatusChanged     EventType = "agent_status_changed"
)

// Event is published to subscribers whenever the registry mutates.
type Event struct {
	Type      EventType    `json:"type"`
	AgentID   string       `json:"agent_id"`
	OldStatus HealthStatus `json:"old_status,omitempty"`
	NewStatus HealthStatus `json:"new_status,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventHandler receives registry events. Handlers run on their own
// goroutines and must not block indefinitely.
type EventHandler func(*Event)
