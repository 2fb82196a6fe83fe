package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// voteKeyPrefix is the reserved shared-state namespace for consensus
// votes: vote:<task_id>:<agent_id> -> {"choice": ...}.
const voteKeyPrefix = "vote:"

// VoteKey builds the reserved shared-state key an agent writes its vote
// under for a given proposal.
func VoteKey(taskID, agentID string) string {
	return fmt.Sprintf("%s%s:%s", voteKeyPrefix, taskID, agentID)
}

type votePayload struct {
	Choice string `json:"choice"`
}

// consensusExecutor treats tasks as proposals. Opening a proposal emits a
// proposal event to every voting participant; votes arrive as shared
// state writes under the reserved vote: keys. A proposal completes once a
// quorum of distinct participants agree on one choice, and fails when the
// voting deadline passes first.
type consensusExecutor struct {
	logger *zap.Logger
}

func (e *consensusExecutor) Pattern() CoordinationType { return TypeConsensus }

func (e *consensusExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	var events []*Event

	// Open voting on newly ready proposals.
	for _, task := range s.Graph().ReadyTasks() {
		if err := s.Graph().MarkVotingOpened(task.TaskID); err != nil {
			continue
		}
		for _, voterID := range s.voterIDs() {
			events = append(events, assignmentEvent(EventProposal, s, task, voterID))
		}
	}

	// Tally open proposals.
	voters := s.voterIDs()
	quorum := e.quorum(s.Policy, len(voters))
	voterSet := make(map[string]struct{}, len(voters))
	for _, id := range voters {
		voterSet[id] = struct{}{}
	}

	for _, task := range s.Graph().Tasks() {
		if task.Status != TaskInProgress || task.VotingOpenedAt.IsZero() {
			continue
		}

		choice, count := e.tally(s, task.TaskID, voterSet)
		if count >= quorum && quorum > 0 {
			result, _ := json.Marshal(map[string]any{"choice": choice, "votes": count})
			if _, err := s.Graph().Complete(task.TaskID, "", result, false, 1); err == nil {
				e.logger.Info("proposal reached quorum",
					zap.String("task_id", task.TaskID),
					zap.String("choice", choice),
					zap.Int("votes", count),
					zap.Int("quorum", quorum))
			}
			continue
		}

		if s.Policy.VotingDeadline > 0 && time.Since(task.VotingOpenedAt) > s.Policy.VotingDeadline {
			_ = s.Graph().FailTerminal(task.TaskID, "voting deadline expired without quorum")
			e.logger.Warn("proposal expired",
				zap.String("task_id", task.TaskID),
				zap.Int("quorum", quorum))
		}
	}
	return events
}

// tally counts distinct agreeing votes for the proposal and returns the
// leading choice. Votes from non-participants are ignored; a participant
// re-voting overwrote its previous vote in shared state, so each counts
// once.
func (e *consensusExecutor) tally(s *Session, taskID string, voterSet map[string]struct{}) (string, int) {
	prefix := voteKeyPrefix + taskID + ":"
	byChoice := make(map[string]int)
	for _, entry := range s.State().Prefix(prefix) {
		agentID := strings.TrimPrefix(entry.Key, prefix)
		if _, ok := voterSet[agentID]; !ok {
			continue
		}
		var vote votePayload
		if err := json.Unmarshal(entry.Value, &vote); err != nil || vote.Choice == "" {
			continue
		}
		byChoice[vote.Choice]++
	}

	best, bestCount := "", 0
	for choice, count := range byChoice {
		if count > bestCount || (count == bestCount && choice < best) {
			best, bestCount = choice, count
		}
	}
	return best, bestCount
}

// quorum resolves the vote threshold: an explicit fraction of the voter
// population, or a simple majority when unset.
func (e *consensusExecutor) quorum(p SessionPolicy, voters int) int {
	if voters == 0 {
		return 0
	}
	if p.QuorumFraction > 0 {
		return int(math.Ceil(p.QuorumFraction * float64(voters)))
	}
	return voters/2 + 1
}
