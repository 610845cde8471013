package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookIdempotency(t *testing.T) {
	store, err := NewWebhookStore(filepath.Join(t.TempDir(), "webhooks.db"), 5*time.Second)
	require.NoError(t, err)
	defer store.Close()

	fresh, err := store.MarkProcessed("evt_1", "github")
	require.NoError(t, err)
	assert.True(t, fresh)

	repeat, err := store.MarkProcessed("evt_1", "github")
	require.NoError(t, err)
	assert.False(t, repeat, "redelivered event is not new")

	seen, err := store.Seen("evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen("evt_2")
	require.NoError(t, err)
	assert.False(t, seen)

	// Nothing is old enough to purge yet.
	purged, err := store.Purge(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
