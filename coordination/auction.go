package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
)

// bidKeyPrefix is the reserved shared-state namespace for auction bids:
// bid:<task_id>:<agent_id> -> {"value": ...}.
const bidKeyPrefix = "bid:"

// BidKey builds the reserved shared-state key an agent writes its bid
// under for a given task.
func BidKey(taskID, agentID string) string {
	return fmt.Sprintf("%s%s:%s", bidKeyPrefix, taskID, agentID)
}

type bidPayload struct {
	Value float64 `json:"value"`
}

type bid struct {
	agentID string
	value   float64
	placed  time.Time
}

// auctionExecutor advertises ready tasks to capable agents and collects
// bids through shared state. When the bid window closes the best bid wins
// the assignment; a window with no bids simply reopens.
type auctionExecutor struct {
	dir    Directory
	logger *zap.Logger
}

func (e *auctionExecutor) Pattern() CoordinationType { return TypeAuction }

func (e *auctionExecutor) Schedule(ctx context.Context, s *Session) []*Event {
	var events []*Event

	// Open bidding on ready tasks that have no open window yet.
	for _, task := range s.Graph().ReadyTasks() {
		if !task.BiddingOpenedAt.IsZero() {
			continue
		}
		if err := s.Graph().MarkBiddingOpened(task.TaskID); err != nil {
			continue
		}
		events = append(events, e.invite(ctx, s, task)...)
	}

	// Settle windows that have closed.
	for _, task := range s.Graph().Tasks() {
		if task.Status != TaskPending || task.BiddingOpenedAt.IsZero() {
			continue
		}
		if time.Since(task.BiddingOpenedAt) < s.Policy.BidWindow {
			continue
		}

		winner, ok := e.settle(s, task)
		if !ok {
			// Nobody bid; reopen the window and re-invite.
			if err := s.Graph().MarkBiddingOpened(task.TaskID); err != nil {
				continue
			}
			events = append(events, e.invite(ctx, s, task)...)
			continue
		}

		rec, err := e.dir.Get(ctx, winner.agentID)
		if err == nil {
			err = s.Graph().Assign(task.TaskID, rec, s.Policy.MinParticipantHealth)
		}
		if err != nil {
			e.logger.Warn("auction winner could not take assignment",
				zap.String("task_id", task.TaskID),
				zap.String("agent_id", winner.agentID),
				zap.Error(err))
			continue
		}
		e.logger.Info("auction settled",
			zap.String("task_id", task.TaskID),
			zap.String("agent_id", winner.agentID),
			zap.Float64("bid", winner.value))
		events = append(events, assignmentEvent(EventAssignment, s, task, winner.agentID))
	}
	return events
}

// invite emits a bid request to every eligible bidder: capable session
// participants first, widened through discovery when none qualify.
func (e *auctionExecutor) invite(ctx context.Context, s *Session, task *Task) []*Event {
	bidders := capableParticipants(ctx, e.dir, s, task)
	if len(bidders) == 0 {
		bidders = e.dir.Discover(ctx, registry.DiscoveryQuery{
			Capabilities: task.RequiredCaps,
			MinHealth:    s.Policy.MinParticipantHealth,
		})
	}
	events := make([]*Event, 0, len(bidders))
	for _, rec := range bidders {
		events = append(events, assignmentEvent(EventBidRequest, s, task, rec.AgentID))
	}
	return events
}

// settle picks the winning bid placed during the window. Lowest cost wins
// under the default policy, highest score under AuctionHighestScore; ties
// go to the earliest bid.
func (e *auctionExecutor) settle(s *Session, task *Task) (bid, bool) {
	prefix := bidKeyPrefix + task.TaskID + ":"
	var best bid
	found := false
	for _, entry := range s.State().Prefix(prefix) {
		if entry.UpdatedAt.Before(task.BiddingOpenedAt) {
			continue
		}
		var payload bidPayload
		if err := json.Unmarshal(entry.Value, &payload); err != nil {
			continue
		}
		candidate := bid{
			agentID: strings.TrimPrefix(entry.Key, prefix),
			value:   payload.Value,
			placed:  entry.UpdatedAt,
		}
		if !found || e.better(s.Policy.Auction, candidate, best) {
			best, found = candidate, true
		}
	}
	return best, found
}

func (e *auctionExecutor) better(policy AuctionPolicy, a, b bid) bool {
	switch policy {
	case AuctionHighestScore:
		if a.value != b.value {
			return a.value > b.value
		}
	default:
		if a.value != b.value {
			return a.value < b.value
		}
	}
	return a.placed.Before(b.placed)
}
