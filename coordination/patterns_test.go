package coordination

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

func registerAgent(t *testing.T, reg *registry.AgentRegistry, id string, load float64, caps ...string) {
	t.Helper()
	err := reg.Register(context.Background(), &registry.AgentRecord{
		AgentID:      id,
		Name:         id,
		AgentType:    "worker",
		Capabilities: types.NewCapabilitySet(caps...),
		Endpoint:     "http://" + id + ".local:8080",
		LoadScore:    load,
	})
	require.NoError(t, err)
}

func newTestSession(t *testing.T, typ CoordinationType, dir Directory, policy SessionPolicy, participantIDs ...string) *Session {
	t.Helper()
	executor, err := NewPatternExecutor(typ, dir, zap.NewNop())
	require.NoError(t, err)

	s := &Session{
		CoordinationID: "c-" + string(typ),
		CoordinatorID:  "coordinator",
		Type:           typ,
		Status:         SessionActive,
		Policy:         policy.withDefaults(),
		CreatedAt:      time.Now(),
		state:          NewSharedStateStore(),
		executor:       executor,
	}
	s.graph = NewTaskGraph(s.CoordinationID)
	for _, id := range participantIDs {
		s.participants = append(s.participants, Participant{AgentID: id, Role: RoleParticipant, JoinedAt: time.Now()})
	}
	return s
}

func TestNewPatternExecutor_UnknownType(t *testing.T) {
	t.Parallel()
	_, err := NewPatternExecutor("gossip", nil, zap.NewNop())
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestSwarmExecutor_FansOutToCapableParticipants(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "ml")
	registerAgent(t, reg, "a2", 0.8, "ml", "gpu")
	registerAgent(t, reg, "a3", 0.1, "video")

	s := newTestSession(t, TypeSwarm, reg, SessionPolicy{}, "a1", "a2", "a3")
	task, err := s.Graph().AddTask(TaskSpec{TaskType: "classify", RequiredCaps: types.NewCapabilitySet("ml")})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 2, "only the ml-capable participants get the task")
	for _, event := range events {
		assert.Equal(t, EventAssignment, event.Type)
		assert.Equal(t, task.TaskID, event.TaskID)
	}

	got, err := s.Graph().Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskAssigned, got.Status)
	assert.ElementsMatch(t, []string{"a1", "a2"}, got.AssignedAgents)

	// Re-scheduling does not double-assign.
	assert.Empty(t, s.executor.Schedule(context.Background(), s))
}

func TestPipelineExecutor_OneTaskInFlight(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "etl")

	s := newTestSession(t, TypePipeline, reg, SessionPolicy{}, "a1")
	t1, err := s.Graph().AddTask(TaskSpec{TaskType: "extract", RequiredCaps: types.NewCapabilitySet("etl")})
	require.NoError(t, err)
	t2, err := s.Graph().AddTask(TaskSpec{TaskType: "transform", RequiredCaps: types.NewCapabilitySet("etl"), Dependencies: []string{t1.TaskID}})
	require.NoError(t, err)
	t3, err := s.Graph().AddTask(TaskSpec{TaskType: "load", RequiredCaps: types.NewCapabilitySet("etl"), Dependencies: []string{t2.TaskID}})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 1)
	assert.Equal(t, t1.TaskID, events[0].TaskID)

	// While t1 is in flight nothing else moves, and t2 stays pending.
	assert.Empty(t, s.executor.Schedule(context.Background(), s))
	got, err := s.Graph().Get(t2.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status)

	done, err := s.Graph().Complete(t1.TaskID, "a1", nil, false, 1)
	require.NoError(t, err)
	require.True(t, done)

	events = s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 1)
	assert.Equal(t, t2.TaskID, events[0].TaskID)

	got, err = s.Graph().Get(t3.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status, "t3 waits for t2")
}

func TestPipelineExecutor_FallsBackToDiscovery(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "outsider", 0.3, "etl")

	// The only participant cannot do the work; discovery finds the outsider.
	registerAgent(t, reg, "p1", 0.2, "chat")
	s := newTestSession(t, TypePipeline, reg, SessionPolicy{}, "p1")
	t1, err := s.Graph().AddTask(TaskSpec{TaskType: "extract", RequiredCaps: types.NewCapabilitySet("etl")})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 1)
	assert.Equal(t, "outsider", events[0].AgentID)

	got, err := s.Graph().Get(t1.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "outsider", got.AssignedAgentID)
}

func TestHierarchicalExecutor_NeverAssigns(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "ml")

	s := newTestSession(t, TypeHierarchical, reg, SessionPolicy{}, "a1")
	t1, err := s.Graph().AddTask(TaskSpec{TaskType: "train", RequiredCaps: types.NewCapabilitySet("ml")})
	require.NoError(t, err)

	assert.Empty(t, s.executor.Schedule(context.Background(), s))
	got, err := s.Graph().Get(t1.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status, "assignment is the coordinator's call")
}

func TestConsensusExecutor_QuorumCompletesProposal(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	for _, id := range []string{"a1", "a2", "a3"} {
		registerAgent(t, reg, id, 0.2, "vote")
	}

	s := newTestSession(t, TypeConsensus, reg, SessionPolicy{}, "a1", "a2", "a3")
	proposal, err := s.Graph().AddTask(TaskSpec{TaskType: "choose-model"})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 3, "every voter is invited")
	for _, event := range events {
		assert.Equal(t, EventProposal, event.Type)
	}
	got, err := s.Graph().Get(proposal.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)

	// One vote is short of a majority of three.
	s.State().Set("a1", VoteKey(proposal.TaskID, "a1"), json.RawMessage(`{"choice":"gpt"}`))
	s.executor.Schedule(context.Background(), s)
	got, err = s.Graph().Get(proposal.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)

	// A vote from a non-participant never counts.
	s.State().Set("stranger", VoteKey(proposal.TaskID, "stranger"), json.RawMessage(`{"choice":"gpt"}`))
	s.executor.Schedule(context.Background(), s)
	got, err = s.Graph().Get(proposal.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)

	s.State().Set("a2", VoteKey(proposal.TaskID, "a2"), json.RawMessage(`{"choice":"gpt"}`))
	s.executor.Schedule(context.Background(), s)
	got, err = s.Graph().Get(proposal.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "gpt", result["choice"])
}

func TestConsensusExecutor_DeadlineFailsProposal(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "vote")
	registerAgent(t, reg, "a2", 0.2, "vote")

	s := newTestSession(t, TypeConsensus, reg, SessionPolicy{VotingDeadline: time.Millisecond}, "a1", "a2")
	proposal, err := s.Graph().AddTask(TaskSpec{TaskType: "choose-model"})
	require.NoError(t, err)

	s.executor.Schedule(context.Background(), s)
	time.Sleep(10 * time.Millisecond)
	s.executor.Schedule(context.Background(), s)

	got, err := s.Graph().Get(proposal.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, got.Status)
	assert.Contains(t, got.FailureReason, "deadline")
}

func TestAuctionExecutor_LowestCostWins(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "render")
	registerAgent(t, reg, "a2", 0.3, "render")

	s := newTestSession(t, TypeAuction, reg, SessionPolicy{BidWindow: time.Millisecond}, "a1", "a2")
	task, err := s.Graph().AddTask(TaskSpec{TaskType: "render", RequiredCaps: types.NewCapabilitySet("render")})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, EventBidRequest, event.Type)
	}
	got, err := s.Graph().Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status, "bidding keeps the task pending")

	s.State().Set("a1", BidKey(task.TaskID, "a1"), json.RawMessage(`{"value":5.0}`))
	s.State().Set("a2", BidKey(task.TaskID, "a2"), json.RawMessage(`{"value":3.0}`))

	time.Sleep(10 * time.Millisecond)
	events = s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 1)
	assert.Equal(t, EventAssignment, events[0].Type)
	assert.Equal(t, "a2", events[0].AgentID)

	got, err = s.Graph().Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskAssigned, got.Status)
	assert.Equal(t, "a2", got.AssignedAgentID)
}

func TestAuctionExecutor_HighestScorePolicy(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "render")
	registerAgent(t, reg, "a2", 0.3, "render")

	policy := SessionPolicy{BidWindow: time.Millisecond, Auction: AuctionHighestScore}
	s := newTestSession(t, TypeAuction, reg, policy, "a1", "a2")
	task, err := s.Graph().AddTask(TaskSpec{TaskType: "render", RequiredCaps: types.NewCapabilitySet("render")})
	require.NoError(t, err)

	s.executor.Schedule(context.Background(), s)
	s.State().Set("a1", BidKey(task.TaskID, "a1"), json.RawMessage(`{"value":0.9}`))
	s.State().Set("a2", BidKey(task.TaskID, "a2"), json.RawMessage(`{"value":0.4}`))

	time.Sleep(10 * time.Millisecond)
	s.executor.Schedule(context.Background(), s)

	got, err := s.Graph().Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AssignedAgentID)
}

func TestAuctionExecutor_NoBidsReopensWindow(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "render")

	s := newTestSession(t, TypeAuction, reg, SessionPolicy{BidWindow: time.Millisecond}, "a1")
	task, err := s.Graph().AddTask(TaskSpec{TaskType: "render", RequiredCaps: types.NewCapabilitySet("render")})
	require.NoError(t, err)

	s.executor.Schedule(context.Background(), s)
	firstWindow, err := s.Graph().Get(task.TaskID)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 1, "re-invitation goes out")
	assert.Equal(t, EventBidRequest, events[0].Type)

	reopened, err := s.Graph().Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, reopened.Status)
	assert.True(t, reopened.BiddingOpenedAt.After(firstWindow.BiddingOpenedAt))
}

func TestCollaborativeExecutor_RequiresAllReports(t *testing.T) {
	t.Parallel()
	reg := registry.NewAgentRegistry(zap.NewNop())
	registerAgent(t, reg, "a1", 0.2, "write")
	registerAgent(t, reg, "a2", 0.3, "write")

	s := newTestSession(t, TypeCollaborative, reg, SessionPolicy{}, "a1", "a2")
	task, err := s.Graph().AddTask(TaskSpec{TaskType: "draft", RequiredCaps: types.NewCapabilitySet("write")})
	require.NoError(t, err)

	events := s.executor.Schedule(context.Background(), s)
	require.Len(t, events, 2)

	done, err := s.Graph().Complete(task.TaskID, "a1", json.RawMessage(`{}`), true, 1)
	require.NoError(t, err)
	assert.False(t, done, "joint work needs every collaborator's report")

	done, err = s.Graph().Complete(task.TaskID, "a2", json.RawMessage(`{}`), true, 1)
	require.NoError(t, err)
	assert.True(t, done)
}
