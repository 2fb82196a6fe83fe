package coordination

import (
	"context"

	"go.uber.org/zap"
)

// hierarchicalExecutor implements push scheduling: the coordinator agent
// assigns tasks explicitly through AssignTask, and the core only validates
// each assignment against capability and health constraints (that check
// lives in TaskGraph.Assign). Schedule therefore never assigns anything
// proactively.
type hierarchicalExecutor struct {
	logger *zap.Logger
}

func (e *hierarchicalExecutor) Pattern() CoordinationType { return TypeHierarchical }

func (e *hierarchicalExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	if ready := s.Graph().ReadyTasks(); len(ready) > 0 {
		e.logger.Debug("ready tasks awaiting coordinator assignment",
			zap.String("coordination_id", s.CoordinationID),
			zap.Int("ready", len(ready)))
	}
	return nil
}
