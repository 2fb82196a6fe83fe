package coordination

import (
	"context"

	"go.uber.org/zap"
)

// collaborativeExecutor hands each ready task to every capable
// participant and requires all of them to report before the task counts
// as completed. It is the joint-work counterpart of swarm, whose
// completion rule is configurable and may settle once the first N
// reports arrive.
type collaborativeExecutor struct {
	dir    Directory
	logger *zap.Logger
}

func (e *collaborativeExecutor) Pattern() CoordinationType { return TypeCollaborative }

func (e *collaborativeExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	var events []*Event
	for _, task := range s.Graph().ReadyTasks() {
		workers := capableParticipants(ctx, e.dir, s, task)
		if len(workers) == 0 {
			e.logger.Debug("no capable participants for task",
				zap.String("task_id", task.TaskID))
			continue
		}
		for _, rec := range workers {
			if err := s.Graph().AssignShared(task.TaskID, rec, s.Policy.MinParticipantHealth); err != nil {
				continue
			}
			events = append(events, assignmentEvent(EventAssignment, s, task, rec.AgentID))
		}
	}
	return events
}
