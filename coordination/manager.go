package coordination

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// Archiver receives closed sessions for durable record keeping. The
// manager calls it once per session, after the terminal transition.
type Archiver interface {
	SessionClosed(ctx context.Context, session *Session, tasks []*Task) error
}

// ManagerConfig tunes the coordination manager's background behavior.
type ManagerConfig struct {
	// SweepInterval paces the background loop that expires session TTLs
	// and closes auction and voting windows.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// DefaultPolicy seeds the policy of sessions created without one.
	DefaultPolicy SessionPolicy `yaml:"default_policy" json:"default_policy"`
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{SweepInterval: time.Second}
}

// CreateCoordinationRequest carries the inputs for a new session.
type CreateCoordinationRequest struct {
	CoordinatorID string           `json:"coordinator_id"`
	Type          CoordinationType `json:"coordination_type"`
	Goal          string           `json:"goal,omitempty"`
	Policy        SessionPolicy    `json:"policy"`

	// Participants seeds the initial membership, validated under the
	// same rules JoinCoordination applies. The coordinator is always a
	// member and must not be listed.
	Participants []ParticipantSeed `json:"participants,omitempty"`
}

// ParticipantSeed names an agent to enroll at session creation. An empty
// role enrolls a participant.
type ParticipantSeed struct {
	AgentID string `json:"agent_id"`
	Role    Role   `json:"role,omitempty"`
}

// CoordinationManager owns every live session: creation, membership,
// task routing, shared state access, progress, and cancellation. It is
// the only component that invokes pattern executors, so all scheduling
// for one session is serialized through its kick path.
type CoordinationManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	taskIndex map[string]string // task_id -> coordination_id

	handlerMu  sync.RWMutex
	handlers   map[string]EventHandler
	handlerSeq int

	dir      Directory
	archiver Archiver
	cfg      ManagerConfig
	logger   *zap.Logger

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCoordinationManager wires a manager over the given agent directory.
// archiver may be nil.
func NewCoordinationManager(dir Directory, archiver Archiver, cfg ManagerConfig, logger *zap.Logger) *CoordinationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &CoordinationManager{
		sessions:  make(map[string]*Session),
		taskIndex: make(map[string]string),
		handlers:  make(map[string]EventHandler),
		dir:       dir,
		archiver:  archiver,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "coordination_manager")),
	}
}

// CreateCoordination opens a new session with the caller as coordinator.
// Listed participants are enrolled atomically: one unregistered or
// unhealthy agent rejects the whole request and no session is created.
func (m *CoordinationManager) CreateCoordination(ctx context.Context, req CreateCoordinationRequest) (*Session, error) {
	if !req.Type.Valid() {
		return nil, types.NewErrorf(types.ErrValidation, "unknown coordination_type %q", req.Type)
	}
	if req.CoordinatorID == "" {
		return nil, types.NewError(types.ErrValidation, "coordinator_id is required")
	}
	if _, err := m.dir.Get(ctx, req.CoordinatorID); err != nil {
		return nil, types.NewErrorf(types.ErrAgentUnavailable,
			"coordinator %s is not registered", req.CoordinatorID).WithCause(err)
	}

	policy := req.Policy
	if policy == (SessionPolicy{}) {
		policy = m.cfg.DefaultPolicy
	}
	policy = policy.withDefaults()

	executor, err := NewPatternExecutor(req.Type, m.dir, m.logger)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	participants := []Participant{
		{AgentID: req.CoordinatorID, Role: RoleCoordinator, JoinedAt: now},
	}
	roles := map[string]Role{req.CoordinatorID: RoleCoordinator}
	for _, seed := range req.Participants {
		role := seed.Role
		if role == "" {
			role = RoleParticipant
		}
		if role == RoleCoordinator {
			return nil, types.NewError(types.ErrValidation, "a session has exactly one coordinator, named by coordinator_id")
		}
		if !role.Valid() {
			return nil, types.NewErrorf(types.ErrValidation, "unknown role %q", role)
		}
		if seed.AgentID == "" {
			return nil, types.NewError(types.ErrValidation, "participant agent_id is required")
		}
		if prev, ok := roles[seed.AgentID]; ok {
			if prev == role {
				continue
			}
			return nil, types.NewErrorf(types.ErrValidation,
				"agent %s listed as both %s and %s", seed.AgentID, prev, role)
		}
		rec, err := m.dir.Get(ctx, seed.AgentID)
		if err != nil {
			return nil, types.NewErrorf(types.ErrAgentUnavailable,
				"participant %s is not registered", seed.AgentID).WithCause(err)
		}
		if rec.HealthStatus.Rank() < policy.MinParticipantHealth.Rank() {
			return nil, types.NewErrorf(types.ErrAgentUnavailable,
				"agent %s is %s, below the %s floor", seed.AgentID, rec.HealthStatus, policy.MinParticipantHealth)
		}
		roles[seed.AgentID] = role
		participants = append(participants, Participant{AgentID: seed.AgentID, Role: role, JoinedAt: now})
	}

	session := &Session{
		CoordinationID: uuid.NewString(),
		CoordinatorID:  req.CoordinatorID,
		Type:           req.Type,
		Goal:           req.Goal,
		Status:         SessionCreated,
		Policy:         policy,
		CreatedAt:      now,
		participants:   participants,
		state:          NewSharedStateStore(),
		executor:       executor,
	}
	session.graph = NewTaskGraph(session.CoordinationID)

	m.mu.Lock()
	m.sessions[session.CoordinationID] = session
	m.mu.Unlock()

	m.logger.Info("coordination created",
		zap.String("coordination_id", session.CoordinationID),
		zap.String("pattern", string(req.Type)),
		zap.String("coordinator_id", req.CoordinatorID))
	m.emit(&Event{
		Type:           EventSessionStatus,
		CoordinationID: session.CoordinationID,
		Pattern:        session.Type,
		SessionStatus:  SessionCreated,
		Timestamp:      now,
	})
	return session, nil
}

// JoinCoordination adds an agent to a session. The coordinator role is
// fixed at creation; joiners are participants or observers. Re-joining
// with the same role is a no-op.
func (m *CoordinationManager) JoinCoordination(ctx context.Context, coordinationID, agentID string, role Role) error {
	if role == RoleCoordinator {
		return types.NewError(types.ErrValidation, "a session has exactly one coordinator, set at creation")
	}
	if !role.Valid() {
		return types.NewErrorf(types.ErrValidation, "unknown role %q", role)
	}

	session, err := m.session(coordinationID)
	if err != nil {
		return err
	}

	rec, err := m.dir.Get(ctx, agentID)
	if err != nil {
		return types.NewErrorf(types.ErrAgentUnavailable, "agent %s is not registered", agentID).WithCause(err)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.Status.Terminal() {
		return types.NewErrorf(types.ErrConflict, "coordination %s is %s", coordinationID, session.Status)
	}
	if rec.HealthStatus.Rank() < session.Policy.MinParticipantHealth.Rank() {
		return types.NewErrorf(types.ErrAgentUnavailable,
			"agent %s is %s, below the %s floor", agentID, rec.HealthStatus, session.Policy.MinParticipantHealth)
	}
	for _, p := range session.participants {
		if p.AgentID == agentID {
			if p.Role == role {
				return nil
			}
			return types.NewErrorf(types.ErrConflict,
				"agent %s already joined as %s", agentID, p.Role)
		}
	}
	session.participants = append(session.participants, Participant{
		AgentID:  agentID,
		Role:     role,
		JoinedAt: time.Now(),
	})
	if session.Status == SessionCreated {
		session.Status = SessionActive
	}
	m.logger.Info("agent joined coordination",
		zap.String("coordination_id", coordinationID),
		zap.String("agent_id", agentID),
		zap.String("role", string(role)))
	return nil
}

// CreateTask adds a task to the session's graph and lets the pattern
// executor react. Tasks requiring capabilities nobody in the registry
// provides are rejected up front.
func (m *CoordinationManager) CreateTask(ctx context.Context, coordinationID string, spec TaskSpec) (*Task, error) {
	session, err := m.session(coordinationID)
	if err != nil {
		return nil, err
	}
	if st := session.status(); st.Terminal() {
		return nil, types.NewErrorf(types.ErrConflict, "coordination %s is %s", coordinationID, st)
	}

	if len(spec.RequiredCaps) > 0 {
		found := m.dir.Discover(ctx, registry.DiscoveryQuery{
			Capabilities: spec.RequiredCaps,
			MinHealth:    session.Policy.MinParticipantHealth,
		})
		if len(found) == 0 {
			return nil, types.NewErrorf(types.ErrCapabilityMismatch,
				"no registered agent provides capabilities %v", spec.RequiredCaps.List())
		}
	}

	task, err := session.Graph().AddTask(spec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.taskIndex[task.TaskID] = coordinationID
	m.mu.Unlock()

	session.mu.Lock()
	if session.Status.Terminal() {
		// A concurrent close won the race against the insert above.
		// Block the new task so it cannot linger pending in a closed
		// session.
		st := session.Status
		session.mu.Unlock()
		session.Graph().BlockNonTerminal()
		return nil, types.NewErrorf(types.ErrConflict, "coordination %s is %s", coordinationID, st)
	}
	if session.Status == SessionCreated {
		session.Status = SessionActive
	}
	session.mu.Unlock()

	m.logger.Info("task created",
		zap.String("coordination_id", coordinationID),
		zap.String("task_id", task.TaskID),
		zap.String("task_type", task.TaskType))

	m.kick(ctx, session)
	return task, nil
}

// AssignTask hands a pending task to a specific agent. This is the push
// path hierarchical coordinators use; other patterns accept it as a
// manual override.
func (m *CoordinationManager) AssignTask(ctx context.Context, taskID, agentID string) error {
	session, err := m.sessionForTask(taskID)
	if err != nil {
		return err
	}
	if st := session.status(); st.Terminal() {
		return types.NewErrorf(types.ErrConflict, "coordination %s is %s", session.CoordinationID, st)
	}
	rec, err := m.dir.Get(ctx, agentID)
	if err != nil {
		return types.NewErrorf(types.ErrAgentUnavailable, "agent %s is not registered", agentID).WithCause(err)
	}
	task, err := session.Graph().Get(taskID)
	if err != nil {
		return err
	}
	if err := session.Graph().Assign(taskID, rec, session.Policy.MinParticipantHealth); err != nil {
		return err
	}
	m.emit(assignmentEvent(EventAssignment, session, task, agentID))
	return nil
}

// StartTask records that an assignee began working on its task.
func (m *CoordinationManager) StartTask(ctx context.Context, taskID, agentID string) error {
	session, err := m.sessionForTask(taskID)
	if err != nil {
		return err
	}
	task, err := session.Graph().Get(taskID)
	if err != nil {
		return err
	}
	if !assignedTo(task, agentID) {
		return types.NewErrorf(types.ErrValidation, "agent %s is not assigned to task %s", agentID, taskID)
	}
	return session.Graph().Start(taskID)
}

// ReportTaskResult records an assignee's outcome for its task. After a
// session has been cancelled reports are accepted but change nothing.
func (m *CoordinationManager) ReportTaskResult(ctx context.Context, taskID, agentID string, success bool, result json.RawMessage, failureReason string) error {
	session, err := m.sessionForTask(taskID)
	if err != nil {
		return err
	}
	if st := session.status(); st.Terminal() {
		m.logger.Debug("result reported after session closed",
			zap.String("coordination_id", session.CoordinationID),
			zap.String("task_id", taskID),
			zap.String("agent_id", agentID))
		return nil
	}
	task, err := session.Graph().Get(taskID)
	if err != nil {
		return err
	}
	if !assignedTo(task, agentID) {
		return types.NewErrorf(types.ErrValidation, "agent %s is not assigned to task %s", agentID, taskID)
	}

	if success {
		needAll, needN := completionRule(session.Type, session.Policy)
		done, err := session.Graph().Complete(taskID, agentID, result, needAll, needN)
		if err != nil {
			return err
		}
		if done {
			m.logger.Info("task completed",
				zap.String("coordination_id", session.CoordinationID),
				zap.String("task_id", taskID),
				zap.String("agent_id", agentID))
		}
	} else {
		requeued, err := session.Graph().Fail(taskID, failureReason, session.Policy.MaxRetries)
		if err != nil {
			return err
		}
		if requeued {
			m.logger.Warn("task failed, requeued",
				zap.String("coordination_id", session.CoordinationID),
				zap.String("task_id", taskID),
				zap.String("reason", failureReason))
		} else {
			m.logger.Warn("task failed permanently",
				zap.String("coordination_id", session.CoordinationID),
				zap.String("task_id", taskID),
				zap.String("reason", failureReason))
			if session.Policy.FailSessionOnTaskFailure {
				m.close(ctx, session, SessionFailed, "task "+taskID+" failed: "+failureReason)
				return nil
			}
		}
	}

	m.kick(ctx, session)
	return nil
}

// UpdateSharedState applies a batch of last-writer-wins writes on behalf
// of a participant. Observers are read-only. In an auction session a
// registered non-member may write its own reserved bid keys, so invited
// outsiders can bid without joining.
func (m *CoordinationManager) UpdateSharedState(ctx context.Context, coordinationID, agentID string, updates map[string]json.RawMessage) (map[string]int64, error) {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	session, err := m.writableSession(ctx, coordinationID, agentID, keys)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, types.NewError(types.ErrValidation, "no updates given")
	}
	versions := session.State().Update(agentID, updates)
	m.kick(ctx, session)
	return versions, nil
}

// CompareAndSetSharedState writes one key only if its version still
// matches expected. Version 0 means the key must not exist yet.
func (m *CoordinationManager) CompareAndSetSharedState(ctx context.Context, coordinationID, agentID, key string, value json.RawMessage, expected int64) (int64, error) {
	session, err := m.writableSession(ctx, coordinationID, agentID, []string{key})
	if err != nil {
		return 0, err
	}
	version, err := session.State().CompareAndSet(agentID, key, value, expected)
	if err != nil {
		return 0, err
	}
	m.kick(ctx, session)
	return version, nil
}

// ReadSharedState returns the requested entries, or every entry when no
// keys are given.
func (m *CoordinationManager) ReadSharedState(ctx context.Context, coordinationID string, keys ...string) (map[string]StateEntry, error) {
	session, err := m.session(coordinationID)
	if err != nil {
		return nil, err
	}
	return session.State().Get(keys...), nil
}

// Progress aggregates the session's task counts into a snapshot.
func (m *CoordinationManager) Progress(ctx context.Context, coordinationID string) (*ProgressSnapshot, error) {
	session, err := m.session(coordinationID)
	if err != nil {
		return nil, err
	}
	counts := session.Graph().Counts()
	total := session.Graph().Len()
	completed := counts[TaskCompleted]

	snapshot := &ProgressSnapshot{
		CoordinationID: coordinationID,
		Status:         session.status(),
		TotalTasks:     total,
		CompletedTasks: completed,
		BlockedTasks:   counts[TaskBlocked],
		TaskCounts:     counts,
	}
	if total > 0 {
		snapshot.Percentage = float64(completed) / float64(total) * 100
	}
	return snapshot, nil
}

// CancelCoordination closes the session and blocks every task that has
// not finished. Cancellation is irreversible; cancelling an already
// cancelled session is a no-op.
func (m *CoordinationManager) CancelCoordination(ctx context.Context, coordinationID, reason string) error {
	session, err := m.session(coordinationID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	switch {
	case session.Status == SessionCancelled:
		session.mu.Unlock()
		return nil
	case session.Status.Terminal():
		st := session.Status
		session.mu.Unlock()
		return types.NewErrorf(types.ErrConflict, "coordination %s is already %s", coordinationID, st)
	}
	session.Status = SessionCancelled
	session.CancelReason = reason
	session.mu.Unlock()

	// Blocking after the terminal transition catches tasks whose insert
	// raced the status check; CreateTask re-checks on its side.
	session.Graph().BlockNonTerminal()
	m.announceClose(ctx, session, SessionCancelled, reason)
	return nil
}

// GetCoordination returns the live session.
func (m *CoordinationManager) GetCoordination(ctx context.Context, coordinationID string) (*Session, error) {
	return m.session(coordinationID)
}

// ListCoordinations returns every known session, newest first.
func (m *CoordinationManager) ListCoordinations(ctx context.Context) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sortSessionsByCreation(out)
	return out
}

// GetTask returns a task by ID, looked up across sessions.
func (m *CoordinationManager) GetTask(ctx context.Context, taskID string) (*Task, error) {
	session, err := m.sessionForTask(taskID)
	if err != nil {
		return nil, err
	}
	return session.Graph().Get(taskID)
}

// Subscribe registers a handler for coordination events and returns a
// subscription ID for Unsubscribe.
func (m *CoordinationManager) Subscribe(handler EventHandler) string {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlerSeq++
	id := "coord-sub-" + strconv.Itoa(m.handlerSeq)
	m.handlers[id] = handler
	return id
}

// Unsubscribe removes a previously registered handler.
func (m *CoordinationManager) Unsubscribe(subscriptionID string) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	delete(m.handlers, subscriptionID)
}

// Start launches the background sweep loop.
func (m *CoordinationManager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.run()
	m.logger.Info("coordination manager started",
		zap.Duration("sweep_interval", m.cfg.SweepInterval))
}

// Stop halts the sweep loop and waits for it to exit.
func (m *CoordinationManager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.done)
	m.wg.Wait()
	m.logger.Info("coordination manager stopped")
}

func (m *CoordinationManager) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.done:
			return
		}
	}
}

// Sweep expires session TTLs and re-drives the time-based patterns so
// bid windows and voting deadlines close without external traffic.
func (m *CoordinationManager) Sweep(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, session := range sessions {
		if session.status().Terminal() {
			continue
		}
		if ttl := session.Policy.TTL; ttl > 0 && now.Sub(session.CreatedAt) > ttl {
			if err := m.CancelCoordination(ctx, session.CoordinationID, "session ttl expired"); err != nil {
				m.logger.Warn("ttl cancellation failed",
					zap.String("coordination_id", session.CoordinationID),
					zap.Error(err))
			}
			continue
		}
		switch session.Type {
		case TypeAuction, TypeConsensus:
			m.kick(ctx, session)
		}
	}
}

// kick lets the session's executor react to whatever changed, publishes
// the resulting events, and closes the session if the graph settled.
func (m *CoordinationManager) kick(ctx context.Context, session *Session) {
	if session.status() != SessionActive {
		return
	}
	for _, event := range session.executor.Schedule(ctx, session) {
		m.emit(event)
	}
	m.settle(ctx, session)
}

// settle closes a session whose graph has no runnable work left.
func (m *CoordinationManager) settle(ctx context.Context, session *Session) {
	if session.status() != SessionActive {
		return
	}
	counts := session.Graph().Counts()
	total := session.Graph().Len()
	if total == 0 {
		return
	}
	if counts[TaskPending]+counts[TaskAssigned]+counts[TaskInProgress] > 0 {
		return
	}
	if counts[TaskFailed]+counts[TaskBlocked] > 0 {
		m.close(ctx, session, SessionFailed, "one or more tasks failed")
		return
	}
	m.close(ctx, session, SessionCompleted, "")
}

// close performs the terminal transition, emits the status event, and
// hands the session to the archiver.
func (m *CoordinationManager) close(ctx context.Context, session *Session, status SessionStatus, reason string) {
	session.mu.Lock()
	if session.Status.Terminal() {
		session.mu.Unlock()
		return
	}
	session.Status = status
	session.CancelReason = reason
	session.mu.Unlock()

	m.announceClose(ctx, session, status, reason)
}

// announceClose logs and emits a terminal transition that already
// happened, then hands the session to the archiver.
func (m *CoordinationManager) announceClose(ctx context.Context, session *Session, status SessionStatus, reason string) {
	m.logger.Info("coordination closed",
		zap.String("coordination_id", session.CoordinationID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	m.emit(&Event{
		Type:           EventSessionStatus,
		CoordinationID: session.CoordinationID,
		Pattern:        session.Type,
		SessionStatus:  status,
		Timestamp:      time.Now(),
	})

	if m.archiver != nil {
		if err := m.archiver.SessionClosed(ctx, session, session.Graph().Tasks()); err != nil {
			m.logger.Error("session archive failed",
				zap.String("coordination_id", session.CoordinationID),
				zap.Error(err))
		}
	}
}

func (m *CoordinationManager) emit(event *Event) {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	for _, handler := range m.handlers {
		go handler(event)
	}
}

func (m *CoordinationManager) session(coordinationID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[coordinationID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "coordination %s not found", coordinationID)
	}
	return session, nil
}

func (m *CoordinationManager) sessionForTask(taskID string) (*Session, error) {
	m.mu.RLock()
	coordinationID, ok := m.taskIndex[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	return m.session(coordinationID)
}

// writableSession resolves a session for a state write, enforcing that
// the writer is a non-observer member of a live session. The one
// exception is an auction self-bid: bid invitations go out to capable
// agents beyond the membership, and a registered invitee must be able to
// convert without joining.
func (m *CoordinationManager) writableSession(ctx context.Context, coordinationID, agentID string, keys []string) (*Session, error) {
	session, err := m.session(coordinationID)
	if err != nil {
		return nil, err
	}
	if st := session.status(); st.Terminal() {
		return nil, types.NewErrorf(types.ErrConflict, "coordination %s is %s", coordinationID, st)
	}
	session.mu.RLock()
	for _, p := range session.participants {
		if p.AgentID != agentID {
			continue
		}
		role := p.Role
		session.mu.RUnlock()
		if role == RoleObserver {
			return nil, types.NewErrorf(types.ErrUnauthorized, "observer %s cannot write shared state", agentID)
		}
		return session, nil
	}
	session.mu.RUnlock()

	if selfBidWrite(session, agentID, keys) {
		if _, err := m.dir.Get(ctx, agentID); err == nil {
			return session, nil
		}
	}
	return nil, types.NewErrorf(types.ErrUnauthorized, "agent %s is not a participant of %s", agentID, coordinationID)
}

// selfBidWrite reports whether every key is the agent's own reserved bid
// key for a session task whose bid window is open.
func selfBidWrite(session *Session, agentID string, keys []string) bool {
	if session.Type != TypeAuction || len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, bidKeyPrefix)
		if !ok {
			return false
		}
		taskID, bidder, ok := strings.Cut(rest, ":")
		if !ok || bidder != agentID {
			return false
		}
		task, err := session.Graph().Get(taskID)
		if err != nil || task.Status != TaskPending || task.BiddingOpenedAt.IsZero() {
			return false
		}
	}
	return true
}

// completionRule derives the fan-out completion parameters for a report.
func completionRule(t CoordinationType, p SessionPolicy) (needAll bool, needN int) {
	switch t {
	case TypeCollaborative:
		return true, 1
	case TypeSwarm:
		if p.Swarm == SwarmFirstN {
			return false, p.SwarmN
		}
		return true, 1
	default:
		return false, 1
	}
}

// assignedTo reports whether the agent holds (or shares) the assignment.
func assignedTo(task *Task, agentID string) bool {
	if task.AssignedAgentID == agentID {
		return true
	}
	for _, id := range task.AssignedAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

func sortSessionsByCreation(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
