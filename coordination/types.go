package coordination

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// CoordinationType selects the scheduling pattern for a session. Chosen
// once at session creation; the matching PatternExecutor is bound for the
// session's lifetime.
type CoordinationType string

const (
	TypeSwarm         CoordinationType = "swarm"
	TypePipeline      CoordinationType = "pipeline"
	TypeHierarchical  CoordinationType = "hierarchical"
	TypeConsensus     CoordinationType = "consensus"
	TypeAuction       CoordinationType = "auction"
	TypeCollaborative CoordinationType = "collaborative"
)

// Valid reports whether the type is one of the six known patterns.
func (t CoordinationType) Valid() bool {
	switch t {
	case TypeSwarm, TypePipeline, TypeHierarchical, TypeConsensus, TypeAuction, TypeCollaborative:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a coordination session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// TaskStatus is the lifecycle state of a task within the graph.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// Role of a participant within a session.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleCoordinator || r == RoleParticipant || r == RoleObserver
}

// Participant is one member of a coordination session.
type Participant struct {
	AgentID  string    `json:"agent_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// AuctionPolicy decides which bid wins.
type AuctionPolicy string

const (
	// AuctionLowestCost treats bid values as costs; the lowest wins.
	AuctionLowestCost AuctionPolicy = "lowest_cost"
	// AuctionHighestScore treats bid values as scores; the highest wins.
	AuctionHighestScore AuctionPolicy = "highest_score"
)

// SwarmCompletion decides when a fan-out task counts as complete.
type SwarmCompletion string

const (
	// SwarmAllReport requires every assigned participant to report.
	SwarmAllReport SwarmCompletion = "all"
	// SwarmFirstN completes once FirstN distinct participants have reported.
	SwarmFirstN SwarmCompletion = "first_n"
)

// SessionPolicy carries the per-session knobs the source protocol leaves
// configurable. Zero values select the documented defaults.
type SessionPolicy struct {
	// MinParticipantHealth is the health floor for joining and assignment.
	// Defaults to degraded: a degraded agent may still hold work.
	MinParticipantHealth registry.HealthStatus `json:"min_participant_health,omitempty"`

	// MaxRetries bounds re-queues of a failed task before it fails for
	// good and blocks its dependents. Default 0: no retry.
	MaxRetries int `json:"max_retries,omitempty"`

	// FailSessionOnTaskFailure escalates any permanent task failure to
	// session failure. Off by default; a failed task normally only blocks
	// its dependents.
	FailSessionOnTaskFailure bool `json:"fail_session_on_task_failure,omitempty"`

	// QuorumFraction is the fraction of voting participants whose
	// agreeing votes complete a consensus task. Zero means simple
	// majority (strictly more than half).
	QuorumFraction float64 `json:"quorum_fraction,omitempty"`

	// VotingDeadline bounds how long a consensus proposal stays open.
	// Zero means no deadline.
	VotingDeadline time.Duration `json:"voting_deadline,omitempty"`

	// BidWindow is how long an auction task collects bids before the
	// winner is picked. Defaults to 30s when zero.
	BidWindow time.Duration `json:"bid_window,omitempty"`

	// Auction selects the winning-bid rule. Defaults to lowest cost.
	Auction AuctionPolicy `json:"auction,omitempty"`

	// Swarm selects the fan-out completion rule. Defaults to all-report.
	Swarm SwarmCompletion `json:"swarm,omitempty"`

	// SwarmN is the N for SwarmFirstN. Values below 1 are treated as 1.
	SwarmN int `json:"swarm_n,omitempty"`

	// TTL auto-cancels the session this long after creation. Zero
	// disables auto-cancellation.
	TTL time.Duration `json:"ttl,omitempty"`
}

// withDefaults fills zero values with the documented defaults.
func (p SessionPolicy) withDefaults() SessionPolicy {
	if p.MinParticipantHealth == "" {
		p.MinParticipantHealth = registry.HealthDegraded
	}
	if p.BidWindow <= 0 {
		p.BidWindow = 30 * time.Second
	}
	if p.Auction == "" {
		p.Auction = AuctionLowestCost
	}
	if p.Swarm == "" {
		p.Swarm = SwarmAllReport
	}
	if p.SwarmN < 1 {
		p.SwarmN = 1
	}
	return p
}

// Task is one node in a session's task graph.
type Task struct {
	TaskID         string              `json:"task_id"`
	CoordinationID string              `json:"coordination_id"`
	TaskType       string              `json:"task_type"`
	Description    string              `json:"description,omitempty"`
	Dependencies   []string            `json:"dependencies,omitempty"`
	Priority       int                 `json:"priority"`
	Status         TaskStatus          `json:"status"`
	RequiredCaps   types.CapabilitySet `json:"required_capabilities,omitempty"`

	// AssignedAgentID is the primary assignee. Empty until assignment.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`

	// AssignedAgents lists every assignee for fan-out patterns
	// (swarm, collaborative). For single-assignee patterns it holds at
	// most the primary.
	AssignedAgents []string `json:"assigned_agents,omitempty"`

	// completedBy tracks which assignees reported completion on a
	// fan-out task.
	completedBy map[string]struct{}

	Retries       int             `json:"retries,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`

	CreatedAt       time.Time `json:"created_at"`
	AssignedAt      time.Time `json:"assigned_at,omitzero"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
	VotingOpenedAt  time.Time `json:"voting_opened_at,omitzero"`
	BiddingOpenedAt time.Time `json:"bidding_opened_at,omitzero"`
}

// clone returns a copy safe to hand to callers. The completedBy map is
// internal and not copied.
func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.AssignedAgents = append([]string(nil), t.AssignedAgents...)
	c.RequiredCaps = t.RequiredCaps.Clone()
	c.completedBy = nil
	return &c
}

// Session is one bounded unit of multi-agent collaboration toward a goal.
// All mutation happens under mu; the graph and shared state carry their
// own locks so state updates do not serialize against task transitions.
type Session struct {
	mu sync.RWMutex

	CoordinationID string           `json:"coordination_id"`
	CoordinatorID  string           `json:"coordinator_id"`
	Type           CoordinationType `json:"coordination_type"`
	Goal           string           `json:"goal,omitempty"`
	Status         SessionStatus    `json:"status"`
	Policy         SessionPolicy    `json:"policy"`
	CreatedAt      time.Time        `json:"created_at"`
	CancelReason   string           `json:"cancel_reason,omitempty"`

	participants []Participant
	graph        *TaskGraph
	state        *SharedStateStore
	executor     PatternExecutor
}

// Participants returns a copy of the participant list in join order.
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Participant(nil), s.participants...)
}

// SessionView is a consistent, serializable snapshot of a session.
type SessionView struct {
	CoordinationID string           `json:"coordination_id"`
	CoordinatorID  string           `json:"coordinator_id"`
	Type           CoordinationType `json:"coordination_type"`
	Goal           string           `json:"goal,omitempty"`
	Status         SessionStatus    `json:"status"`
	Policy         SessionPolicy    `json:"policy"`
	Participants   []Participant    `json:"participants"`
	CreatedAt      time.Time        `json:"created_at"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
}

// Snapshot captures the session under its lock. Transports serialize the
// view, never the live session.
func (s *Session) Snapshot() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionView{
		CoordinationID: s.CoordinationID,
		CoordinatorID:  s.CoordinatorID,
		Type:           s.Type,
		Goal:           s.Goal,
		Status:         s.Status,
		Policy:         s.Policy,
		Participants:   append([]Participant(nil), s.participants...),
		CreatedAt:      s.CreatedAt,
		CancelReason:   s.CancelReason,
	}
}

// voterIDs returns the non-observer participants, the population quorum
// is computed over.
func (s *Session) voterIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Role != RoleObserver {
			ids = append(ids, p.AgentID)
		}
	}
	return ids
}

// Graph exposes the session's task graph.
func (s *Session) Graph() *TaskGraph { return s.graph }

// State exposes the session's shared state store.
func (s *Session) State() *SharedStateStore { return s.state }

// status reads the session status under lock.
func (s *Session) status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// EventType identifies an emitted coordination event.
type EventType string

const (
	// EventAssignment reports a task handed to an agent.
	EventAssignment EventType = "assignment"
	// EventProposal invites a participant to vote on a consensus task.
	EventProposal EventType = "proposal"
	// EventBidRequest invites a capable agent to bid on an auction task.
	EventBidRequest EventType = "bid_request"
	// EventSessionStatus reports a session lifecycle transition.
	EventSessionStatus EventType = "session_status"
)

// Event is delivered to subscribers (typically the agent-invocation
// transport). The core never calls into agents directly; emitting an
// event is the hand-off.
type Event struct {
	Type           EventType           `json:"type"`
	CoordinationID string              `json:"coordination_id"`
	Pattern        CoordinationType    `json:"pattern,omitempty"`
	TaskID         string              `json:"task_id,omitempty"`
	AgentID        string              `json:"agent_id,omitempty"`
	RequiredCaps   types.CapabilitySet `json:"required_capabilities,omitempty"`
	SessionStatus  SessionStatus       `json:"session_status,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// EventHandler receives coordination events on its own goroutine.
type EventHandler func(*Event)

// ProgressSnapshot aggregates a session's task completion state.
type ProgressSnapshot struct {
	CoordinationID string             `json:"coordination_id"`
	Status         SessionStatus      `json:"status"`
	TotalTasks     int                `json:"total_tasks"`
	CompletedTasks int                `json:"completed_tasks"`
	BlockedTasks   int                `json:"blocked_tasks"`
	Percentage     float64            `json:"percentage"`
	TaskCounts     map[TaskStatus]int `json:"task_counts"`
}
