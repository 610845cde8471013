package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(filepath.Join(t.TempDir(), "memory.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	store := newTestMemory(t)
	_, err := store.Save(MemoryEntry{
		AgentName: "claude", Content: "cooking pasta requires salted water", Importance: 1,
	})
	require.NoError(t, err)
	_, err = store.Save(MemoryEntry{
		AgentName: "claude", Content: "token bucket limits burst traffic on the api", Importance: 1,
	})
	require.NoError(t, err)

	got, err := store.Retrieve("claude", "api rate limit token bucket", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "token bucket")
}

func TestRetrieveRanksByImportance(t *testing.T) {
	store := newTestMemory(t)
	_, err := store.Save(MemoryEntry{AgentName: "claude", Content: "minor detail", Importance: 1})
	require.NoError(t, err)
	_, err = store.Save(MemoryEntry{AgentName: "claude", Content: "hard won lesson", Importance: 9})
	require.NoError(t, err)

	got, err := store.Retrieve("claude", "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hard won lesson", got[0].Content)
}

func TestRetrieveScopedToAgent(t *testing.T) {
	store := newTestMemory(t)
	_, err := store.Save(MemoryEntry{AgentName: "claude", Content: "mine"})
	require.NoError(t, err)
	_, err = store.Save(MemoryEntry{AgentName: "gpt", Content: "theirs"})
	require.NoError(t, err)

	got, err := store.Retrieve("claude", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].Content)
}

func TestReflectionCycle(t *testing.T) {
	store := newTestMemory(t)
	for i := 0; i < 3; i++ {
		_, err := store.Save(MemoryEntry{
			AgentName: "claude", MemoryType: MemoryObservation, Content: "observation", Importance: 4,
		})
		require.NoError(t, err)
	}

	should, err := store.ShouldReflect("claude", 10)
	require.NoError(t, err)
	assert.True(t, should, "12 pending importance crosses threshold 10")

	require.NoError(t, store.MarkReflected("claude", "patterns emerge from repetition", 5))

	should, err = store.ShouldReflect("claude", 10)
	require.NoError(t, err)
	assert.False(t, should, "reflection resets the pending counter")

	stats, err := store.Stats("claude")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Counts[MemoryObservation])
	assert.Equal(t, 1, stats.Counts[MemoryReflection])
	assert.Zero(t, stats.TotalPending)
}
