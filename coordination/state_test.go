package coordination

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentnet/types"
)

func TestSharedStateStore_SetVersionsIncrease(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()

	v1 := store.Set("a1", "progress", json.RawMessage(`{"done":1}`))
	v2 := store.Set("a2", "progress", json.RawMessage(`{"done":2}`))
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	entries := store.Get("progress")
	require.Contains(t, entries, "progress")
	assert.Equal(t, "a2", entries["progress"].LastWriterAgentID)
	assert.JSONEq(t, `{"done":2}`, string(entries["progress"].Value))
}

func TestSharedStateStore_CompareAndSet(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()

	// Version 0 means the key must not exist yet.
	v, err := store.CompareAndSet("a1", "leader", json.RawMessage(`"a1"`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// A second create attempt loses the race.
	_, err = store.CompareAndSet("a2", "leader", json.RawMessage(`"a2"`), 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	// Writing with the observed version succeeds.
	v, err = store.CompareAndSet("a2", "leader", json.RawMessage(`"a2"`), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestSharedStateStore_UpdateBatch(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()
	store.Set("a1", "k1", json.RawMessage(`1`))

	versions := store.Update("a2", map[string]json.RawMessage{
		"k1": json.RawMessage(`2`),
		"k2": json.RawMessage(`"fresh"`),
	})
	assert.Equal(t, int64(2), versions["k1"])
	assert.Equal(t, int64(1), versions["k2"])
	assert.Equal(t, 2, store.Len())
}

func TestSharedStateStore_GetAllAndPrefix(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()
	store.Set("a1", "vote:t1:a1", json.RawMessage(`{"choice":"x"}`))
	store.Set("a2", "vote:t1:a2", json.RawMessage(`{"choice":"x"}`))
	store.Set("a1", "vote:t2:a1", json.RawMessage(`{"choice":"y"}`))
	store.Set("a1", "plan", json.RawMessage(`{}`))

	all := store.Get()
	assert.Len(t, all, 4)

	t1Votes := store.Prefix("vote:t1:")
	assert.Len(t, t1Votes, 2)

	missing := store.Get("nope", "plan")
	assert.Len(t, missing, 1)
	assert.Contains(t, missing, "plan")
}

func TestSharedStateStore_ConcurrentWritersKeepVersionsDense(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Set("a1", "counter", json.RawMessage(`1`))
		}()
	}
	wg.Wait()

	entries := store.Get("counter")
	require.Contains(t, entries, "counter")
	assert.Equal(t, int64(writers), entries["counter"].Version)
}

func TestSharedStateStore_ValueIsCopied(t *testing.T) {
	t.Parallel()
	store := NewSharedStateStore()

	raw := json.RawMessage(`{"a":1}`)
	store.Set("a1", "k", raw)
	raw[2] = 'z'

	entries := store.Get("k")
	assert.JSONEq(t, `{"a":1}`, string(entries["k"].Value))
}
