package coordination

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentnet/types"
)

// StateEntry is one versioned value in a session's shared state.
type StateEntry struct {
	Key               string          `json:"key"`
	Value             json.RawMessage `json:"value"`
	Version           int64           `json:"version"`
	LastWriterAgentID string          `json:"last_writer_agent_id"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SharedStateStore is the per-session key/value store participants use to
// synchronize mid-execution. Writes are last-write-wins with a per-key
// monotonically increasing version; callers that need optimistic
// concurrency pass the version they last observed and get CONFLICT back
// when they lost the race. A single mutex gives per-key atomicity; the
// store is scoped to one session and destroyed with it.
type SharedStateStore struct {
	mu      sync.RWMutex
	entries map[string]*StateEntry
}

// NewSharedStateStore creates an empty store.
func NewSharedStateStore() *SharedStateStore {
	return &SharedStateStore{entries: make(map[string]*StateEntry)}
}

// Set applies a last-write-wins write and returns the new version.
func (s *SharedStateStore) Set(agentID, key string, value json.RawMessage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(agentID, key, value)
}

// CompareAndSet writes only if the current version equals expected.
// An expected version of 0 means "key must not exist yet". Returns the
// new version, or CONFLICT (retryable) when the caller lost a race.
func (s *SharedStateStore) CompareAndSet(agentID, key string, value json.RawMessage, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if entry, ok := s.entries[key]; ok {
		current = entry.Version
	}
	if current != expected {
		return 0, types.NewErrorf(types.ErrConflict,
			"key %q at version %d, expected %d", key, current, expected).
			WithRetryable(true)
	}
	return s.setLocked(agentID, key, value), nil
}

// Update applies several last-write-wins writes atomically and returns
// the new version per key.
func (s *SharedStateStore) Update(agentID string, updates map[string]json.RawMessage) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := make(map[string]int64, len(updates))
	for key, value := range updates {
		versions[key] = s.setLocked(agentID, key, value)
	}
	return versions
}

func (s *SharedStateStore) setLocked(agentID, key string, value json.RawMessage) int64 {
	entry, ok := s.entries[key]
	if !ok {
		entry = &StateEntry{Key: key}
		s.entries[key] = entry
	}
	entry.Version++
	entry.Value = append(json.RawMessage(nil), value...)
	entry.LastWriterAgentID = agentID
	entry.UpdatedAt = time.Now()
	return entry.Version
}

// Get returns the entries for the requested keys. Missing keys are
// simply absent from the result. An empty key list returns everything.
func (s *SharedStateStore) Get(keys ...string) map[string]StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(keys) == 0 {
		out := make(map[string]StateEntry, len(s.entries))
		for k, e := range s.entries {
			out[k] = *e
		}
		return out
	}
	out := make(map[string]StateEntry, len(keys))
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			out[k] = *e
		}
	}
	return out
}

// Prefix returns all entries whose key starts with the given prefix,
// used for the reserved vote: and bid: key namespaces.
func (s *SharedStateStore) Prefix(prefix string) []StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StateEntry
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of keys.
func (s *SharedStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
