package coordination

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
)

// pipelineExecutor enforces strictly sequential execution: at most one
// task is assigned or in progress at a time, and the next ready task is
// scheduled only after its predecessor completes. The assignee is the
// least-loaded capable participant; with none capable the executor falls
// back to registry-wide discovery.
type pipelineExecutor struct {
	dir    Directory
	logger *zap.Logger
}

func (e *pipelineExecutor) Pattern() CoordinationType { return TypePipeline }

func (e *pipelineExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	if s.Graph().InFlight() {
		return nil
	}
	ready := s.Graph().ReadyTasks()
	if len(ready) == 0 {
		return nil
	}
	task := ready[0]

	candidates := capableParticipants(ctx, e.dir, s, task)
	if len(candidates) == 0 {
		minHealth := s.Policy.MinParticipantHealth
		candidates = e.dir.Discover(ctx, registry.DiscoveryQuery{
			Capabilities: task.RequiredCaps,
			MinHealth:    minHealth,
		})
	}
	if len(candidates) == 0 {
		e.logger.Debug("no capable agent for pipeline task", zap.String("task_id", task.TaskID))
		return nil
	}

	// Participant lookups preserve join order; discovery results are
	// already load-sorted. Take the first assignable candidate.
	for _, rec := range candidates {
		if err := s.Graph().Assign(task.TaskID, rec, s.Policy.MinParticipantHealth); err != nil {
			e.logger.Debug("pipeline assignment failed",
				zap.String("task_id", task.TaskID),
				zap.String("agent_id", rec.AgentID),
				zap.Error(err))
			continue
		}
		return []*Event{assignmentEvent(EventAssignment, s, task, rec.AgentID)}
	}
	return nil
}
