package coordination

import (
	"context"

	"go.uber.org/zap"
)

// swarmExecutor fans every ready task out to all capable participants,
// each working toward the goal independently. Task completion follows the
// session's swarm policy: all-report (default) or first-N distinct
// reports.
type swarmExecutor struct {
	dir    Directory
	logger *zap.Logger
}

func (e *swarmExecutor) Pattern() CoordinationType { return TypeSwarm }

func (e *swarmExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	var events []*Event
	for _, task := range s.Graph().ReadyTasks() {
		candidates := capableParticipants(ctx, e.dir, s, task)
		if len(candidates) == 0 {
			e.logger.Debug("no capable participants for swarm task",
				zap.String("task_id", task.TaskID))
			continue
		}
		for _, rec := range candidates {
			if err := s.Graph().AssignShared(task.TaskID, rec, s.Policy.MinParticipantHealth); err != nil {
				e.logger.Debug("swarm assignment skipped",
					zap.String("task_id", task.TaskID),
					zap.String("agent_id", rec.AgentID),
					zap.Error(err))
				continue
			}
			events = append(events, assignmentEvent(EventAssignment, s, task, rec.AgentID))
		}
	}
	return events
}
