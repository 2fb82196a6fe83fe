package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

func setupAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	pool, err := NewPoolManager(setupTestDB(t), PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := NewAuditStore(pool, zap.NewNop())
	require.NoError(t, err)
	return store
}

// closedSession runs a real session to completion through the manager so
// the archive sees the same shapes production does.
func closedSession(t *testing.T, archiver coordination.Archiver) {
	t.Helper()
	ctx := context.Background()
	reg := registry.NewAgentRegistry(zap.NewNop())
	require.NoError(t, reg.Register(ctx, &registry.AgentRecord{
		AgentID:      "a1",
		Name:         "a1",
		AgentType:    "worker",
		Capabilities: types.NewCapabilitySet("ml"),
		Endpoint:     "http://a1.local:8080",
	}))

	mgr := coordination.NewCoordinationManager(reg, archiver, coordination.DefaultManagerConfig(), zap.NewNop())
	session, err := mgr.CreateCoordination(ctx, coordination.CreateCoordinationRequest{
		CoordinatorID: "a1",
		Type:          coordination.TypeHierarchical,
		Goal:          "classify",
	})
	require.NoError(t, err)

	task, err := mgr.CreateTask(ctx, session.CoordinationID, coordination.TaskSpec{
		TaskType:     "classify",
		RequiredCaps: types.NewCapabilitySet("ml"),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.AssignTask(ctx, task.TaskID, "a1"))
	require.NoError(t, mgr.ReportTaskResult(ctx, task.TaskID, "a1", true, json.RawMessage(`{"label":"cat"}`), ""))
}

func TestAuditStore_ArchivesClosedSession(t *testing.T) {
	store := setupAuditStore(t)
	closedSession(t, store)

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	assert.Equal(t, "hierarchical", got.Pattern)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "classify", got.Goal)
	assert.Equal(t, 1, got.TotalTasks)
	assert.Equal(t, 1, got.CompletedTasks)

	tasks, err := store.Tasks(context.Background(), got.CoordinationID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "classify", tasks[0].TaskType)
	assert.Equal(t, "completed", tasks[0].Status)
	assert.Equal(t, "a1", tasks[0].AssignedAgentID)
	assert.JSONEq(t, `{"label":"cat"}`, string(tasks[0].Result))
}

func TestAuditStore_SessionLookup(t *testing.T) {
	store := setupAuditStore(t)
	closedSession(t, store)

	sessions, err := store.Sessions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got, err := store.Session(context.Background(), sessions[0].CoordinationID)
	require.NoError(t, err)
	assert.Equal(t, sessions[0].CoordinationID, got.CoordinationID)

	_, err = store.Session(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAuditStore_ReclosingUpserts(t *testing.T) {
	store := setupAuditStore(t)
	closedSession(t, store)

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// Archiving the same session again replaces, never duplicates.
	session := &coordination.Session{
		CoordinationID: sessions[0].CoordinationID,
		CoordinatorID:  sessions[0].CoordinatorID,
		Type:           coordination.CoordinationType(sessions[0].Pattern),
		Status:         coordination.SessionCompleted,
		CreatedAt:      sessions[0].CreatedAt,
	}
	require.NoError(t, store.SessionClosed(context.Background(), session, nil))

	sessions, err = store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
