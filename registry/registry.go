package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/types"
)

// AgentRegistry is the source of truth for agent records. It owns the
// capability inverted index and provides register/deregister/discover
// with snapshot-consistent reads. All methods are safe for concurrent use.
type AgentRegistry struct {
	mu sync.RWMutex

	// agents stores records by agent ID. Offline records are retained
	// for audit; they are filtered out of discovery.
	agents map[string]*AgentRecord

	// capIndex maps a capability tag to the set of agent IDs declaring it.
	// Maintained incrementally on register/deregister, proportional to the
	// number of changed tags, never to the number of agents.
	capIndex map[string]map[string]struct{}

	eventHandlers map[string]EventHandler
	handlerMu     sync.RWMutex
	handlerSeq    int64

	logger *zap.Logger
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry(logger *zap.Logger) *AgentRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentRegistry{
		agents:        make(map[string]*AgentRecord),
		capIndex:      make(map[string]map[string]struct{}),
		eventHandlers: make(map[string]EventHandler),
		logger:        logger.With(zap.String("component", "agent_registry")),
	}
}

// Register inserts or replaces the record keyed by AgentID. Re-registration
// replaces capabilities, endpoint, and metadata but preserves RegisteredAt.
// The index is updated with only the capability tags that changed.
func (r *AgentRegistry) Register(ctx context.Context, rec *AgentRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	stored := rec.Clone()
	now := time.Now()

	r.mu.Lock()
	existing, exists := r.agents[stored.AgentID]
	if exists {
		stored.RegisteredAt = existing.RegisteredAt
		// Drop index entries for tags no longer declared.
		for tag := range existing.Capabilities {
			if !stored.Capabilities.Has(tag) {
				r.unindex(tag, stored.AgentID)
			}
		}
	} else {
		stored.RegisteredAt = now
	}
	if stored.HealthStatus == "" {
		stored.HealthStatus = HealthHealthy
	}
	stored.LastHeartbeatAt = now
	for tag := range stored.Capabilities {
		r.index(tag, stored.AgentID)
	}
	r.agents[stored.AgentID] = stored
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", stored.AgentID),
		zap.Strings("capabilities", stored.Capabilities.List()),
		zap.Bool("replaced", exists),
	)

	r.emit(&Event{
		Type:      EventAgentRegistered,
		AgentID:   stored.AgentID,
		NewStatus: stored.HealthStatus,
		Timestamp: now,
	})
	return nil
}

// Deregister marks the agent offline and removes its index entries.
// The record is retained for audit. Idempotent: deregistering an unknown
// or already-offline agent is not an error.
func (r *AgentRegistry) Deregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	rec, exists := r.agents[agentID]
	if !exists || rec.HealthStatus == HealthOffline {
		r.mu.Unlock()
		return nil
	}
	old := rec.HealthStatus
	rec.HealthStatus = HealthOffline
	for tag := range rec.Capabilities {
		r.unindex(tag, agentID)
	}
	r.mu.Unlock()

	r.logger.Info("agent deregistered", zap.String("agent_id", agentID))
	r.emit(&Event{
		Type:      EventAgentDeregistered,
		AgentID:   agentID,
		OldStatus: old,
		NewStatus: HealthOffline,
		Timestamp: time.Now(),
	})
	return nil
}

// Get returns a copy of the record, or NOT_FOUND if the agent was never
// registered.
func (r *AgentRegistry) Get(ctx context.Context, agentID string) (*AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.agents[agentID]
	if !exists {
		return nil, types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	return rec.Clone(), nil
}

// Heartbeat records a liveness signal. The self-reported status is trusted
// verbatim: an agent may report itself degraded while live, and a heartbeat
// never auto-upgrades beyond what the agent reports. LastHeartbeatAt is
// monotonic regardless of call interleaving.
func (r *AgentRegistry) Heartbeat(ctx context.Context, agentID string, status HealthStatus, loadScore float64) error {
	if status == "" {
		status = HealthHealthy
	}
	if !status.Valid() {
		return types.NewErrorf(types.ErrValidation, "unknown health_status %q", status)
	}
	if loadScore < 0 || loadScore > 1 {
		return types.NewErrorf(types.ErrValidation, "load_score %v outside [0.0, 1.0]", loadScore)
	}

	now := time.Now()

	r.mu.Lock()
	rec, exists := r.agents[agentID]
	if !exists {
		r.mu.Unlock()
		return types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	old := rec.HealthStatus
	if old == HealthOffline {
		// A heartbeat from an offline agent revives it; its capability
		// index entries were dropped and must come back.
		for tag := range rec.Capabilities {
			r.index(tag, agentID)
		}
	}
	rec.HealthStatus = status
	rec.LoadScore = loadScore
	if now.After(rec.LastHeartbeatAt) {
		rec.LastHeartbeatAt = now
	}
	r.mu.Unlock()

	if old != status {
		r.emit(&Event{
			Type:      EventStatusChanged,
			AgentID:   agentID,
			OldStatus: old,
			NewStatus: status,
			Timestamp: now,
		})
	}
	return nil
}

// Discover returns copies of all agents matching every query predicate,
// sorted by ascending load score, then descending health rank, then
// ascending registration time. An empty result is not an error.
//
// Reads are snapshot-consistent per record but advisory with respect to
// in-flight heartbeats: a result may briefly include an agent that has
// just gone stale.
func (r *AgentRegistry) Discover(ctx context.Context, query DiscoveryQuery) []*AgentRecord {
	minHealth := query.MinHealth
	if minHealth == "" {
		minHealth = HealthHealthy
	}

	r.mu.RLock()
	candidates := r.candidateIDs(query.Capabilities)
	matched := make([]*AgentRecord, 0, len(candidates))
	for _, id := range candidates {
		rec, ok := r.agents[id]
		if !ok {
			continue
		}
		if rec.HealthStatus == HealthOffline || rec.HealthStatus.Rank() < minHealth.Rank() {
			continue
		}
		if query.AgentType != "" && rec.AgentType != query.AgentType {
			continue
		}
		if query.Region != "" && rec.Region != query.Region {
			continue
		}
		if len(query.Tags) > 0 && !rec.Tags.ContainsAll(query.Tags) {
			continue
		}
		if query.MaxLoad != nil && rec.LoadScore > *query.MaxLoad {
			continue
		}
		if !rec.Capabilities.ContainsAll(query.Capabilities) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.LoadScore != b.LoadScore {
			return a.LoadScore < b.LoadScore
		}
		if ra, rb := a.HealthStatus.Rank(), b.HealthStatus.Rank(); ra != rb {
			return ra > rb
		}
		// Oldest first, to favor stable agents.
		return a.RegisteredAt.Before(b.RegisteredAt)
	})
	return matched
}

// candidateIDs narrows the search via the capability index. With no
// capability filter every agent is a candidate. Caller holds at least
// a read lock.
func (r *AgentRegistry) candidateIDs(capabilities types.CapabilitySet) []string {
	if len(capabilities) == 0 {
		ids := make([]string, 0, len(r.agents))
		for id := range r.agents {
			ids = append(ids, id)
		}
		return ids
	}

	// Intersect starting from the rarest tag.
	var smallest map[string]struct{}
	for tag := range capabilities {
		set, ok := r.capIndex[tag]
		if !ok {
			return nil
		}
		if smallest == nil || len(set) < len(smallest) {
			smallest = set
		}
	}

	ids := make([]string, 0, len(smallest))
	for id := range smallest {
		ids = append(ids, id)
	}
	return ids
}

// List returns copies of every record, including offline ones.
func (r *AgentRegistry) List(ctx context.Context) []*AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		records = append(records, rec.Clone())
	}
	return records
}

// StatusCounts returns the number of agents per health status, for metrics.
func (r *AgentRegistry) StatusCounts() map[HealthStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[HealthStatus]int, 4)
	for _, rec := range r.agents {
		counts[rec.HealthStatus]++
	}
	return counts
}

// Restore loads previously snapshotted records, rebuilding the capability
// index. Intended for boot-time rehydration; existing entries with the
// same ID are overwritten.
func (r *AgentRegistry) Restore(records []*AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.AgentID == "" {
			continue
		}
		stored := rec.Clone()
		r.agents[stored.AgentID] = stored
		if stored.HealthStatus != HealthOffline {
			for tag := range stored.Capabilities {
				r.index(tag, stored.AgentID)
			}
		}
	}
	r.logger.Info("registry restored", zap.Int("records", len(records)))
}

// Subscribe registers an event handler and returns a subscription ID.
func (r *AgentRegistry) Subscribe(handler EventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	r.handlerSeq++
	id := fmt.Sprintf("sub-%d", r.handlerSeq)
	r.eventHandlers[id] = handler
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (r *AgentRegistry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	delete(r.eventHandlers, subscriptionID)
}

func (r *AgentRegistry) index(tag, agentID string) {
	if r.capIndex[tag] == nil {
		r.capIndex[tag] = make(map[string]struct{})
	}
	r.capIndex[tag][agentID] = struct{}{}
}

func (r *AgentRegistry) unindex(tag, agentID string) {
	if set, ok := r.capIndex[tag]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(r.capIndex, tag)
		}
	}
}

func (r *AgentRegistry) emit(event *Event) {
	r.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
