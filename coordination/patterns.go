package coordination

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// Directory is the slice of the agent registry the executors need:
// resolving capable, healthy agents for scheduling decisions.
// *registry.AgentRegistry satisfies it.
type Directory interface {
	Discover(ctx context.Context, query registry.DiscoveryQuery) []*registry.AgentRecord
	Get(ctx context.Context, agentID string) (*registry.AgentRecord, error)
}

// PatternExecutor drives a session's task graph according to one
// coordination pattern. Schedule is invoked whenever graph or shared
// state changes (new ready tasks, a completion, a vote or bid arrival);
// it applies any transitions itself and returns the events describing
// them. Executors never call into agents; emitted events are the hand-off
// to the external invocation transport.
type PatternExecutor interface {
	Pattern() CoordinationType
	Schedule(ctx context.Context, s *Session) []*Event
}

// NewPatternExecutor returns the executor for the given type. The choice
// is made once at session creation and never re-branched per call.
func NewPatternExecutor(t CoordinationType, dir Directory, logger *zap.Logger) (PatternExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "pattern_executor"), zap.String("pattern", string(t)))

	switch t {
	case TypeSwarm:
		return &swarmExecutor{dir: dir, logger: logger}, nil
	case TypePipeline:
		return &pipelineExecutor{dir: dir, logger: logger}, nil
	case TypeHierarchical:
		return &hierarchicalExecutor{logger: logger}, nil
	case TypeConsensus:
		return &consensusExecutor{logger: logger}, nil
	case TypeAuction:
		return &auctionExecutor{dir: dir, logger: logger}, nil
	case TypeCollaborative:
		return &collaborativeExecutor{dir: dir, logger: logger}, nil
	default:
		return nil, types.NewErrorf(types.ErrValidation, "unknown coordination_type %q", t)
	}
}

// assignmentEvent builds the common event shape for a task hand-off.
func assignmentEvent(typ EventType, s *Session, task *Task, agentID string) *Event {
	return &Event{
		Type:           typ,
		CoordinationID: s.CoordinationID,
		Pattern:        s.Type,
		TaskID:         task.TaskID,
		AgentID:        agentID,
		RequiredCaps:   task.RequiredCaps.Clone(),
		Timestamp:      time.Now(),
	}
}

// capableParticipants resolves the session participants (non-observers)
// that are live and declare the task's required capabilities.
func capableParticipants(ctx context.Context, dir Directory, s *Session, task *Task) []*registry.AgentRecord {
	var out []*registry.AgentRecord
	for _, id := range s.voterIDs() {
		rec, err := dir.Get(ctx, id)
		if err != nil {
			continue
		}
		if checkAssignable(task, rec, s.Policy.MinParticipantHealth) == nil {
			out = append(out, rec)
		}
	}
	return out
}
