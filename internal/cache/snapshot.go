package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
)

// DefaultSnapshotKey is the Redis key registry snapshots are stored
// under when the config does not override it.
const DefaultSnapshotKey = "agentnet:registry:snapshot"

// SnapshotStore persists periodic snapshots of the agent registry to
// Redis so a restarted node can rehydrate its in-memory directory
// instead of waiting a full heartbeat cycle for agents to re-register.
type SnapshotStore struct {
	manager *Manager
	key     string
	ttl     time.Duration
	logger  *zap.Logger
}

// snapshot is the stored wire shape.
type snapshot struct {
	TakenAt time.Time               `json:"taken_at"`
	Agents  []*registry.AgentRecord `json:"agents"`
}

// NewSnapshotStore wraps a cache manager. A zero TTL keeps snapshots
// until overwritten.
func NewSnapshotStore(manager *Manager, key string, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{
		manager: manager,
		key:     key,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "registry_snapshot")),
	}
}

// Save overwrites the stored snapshot with the given records.
func (s *SnapshotStore) Save(ctx context.Context, records []*registry.AgentRecord) error {
	snap := snapshot{TakenAt: time.Now(), Agents: records}
	if err := s.manager.SetJSON(ctx, s.key, snap, s.ttl); err != nil {
		return err
	}
	s.logger.Debug("registry snapshot saved", zap.Int("agents", len(records)))
	return nil
}

// Load returns the stored records, or (nil, nil) when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context) ([]*registry.AgentRecord, error) {
	var snap snapshot
	err := s.manager.GetJSON(ctx, s.key, &snap)
	if IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("registry snapshot loaded",
		zap.Int("agents", len(snap.Agents)),
		zap.Time("taken_at", snap.TakenAt))
	return snap.Agents, nil
}

// Clear removes the stored snapshot.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.manager.Delete(ctx, s.key)
}
