package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/ranking"
)

func newTestRatings(t *testing.T) *RatingStore {
	t.Helper()
	store, err := NewRatingStore(filepath.Join(t.TempDir(), "ratings.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetRatingDefaultsForNewAgent(t *testing.T) {
	store := newTestRatings(t)
	r, err := store.GetRating("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", r.AgentName)
	assert.Equal(t, float64(ranking.DefaultElo), r.Elo)
	assert.Zero(t, r.Matches)
}

func TestRecordMatchRoundTrip(t *testing.T) {
	store := newTestRatings(t)
	match := ranking.MatchRecord{
		ID:           "m1",
		DebateID:     "d1",
		Winner:       "claude",
		Participants: []string{"claude", "gpt"},
		Scores:       map[string]float64{"claude": 1, "gpt": 0},
		EloChanges:   map[string]float64{"claude": 16, "gpt": -16},
		Timestamp:    time.Now().UTC().Truncate(time.Second),
		Domain:       "engineering",
	}
	updated := []ranking.Rating{
		{AgentName: "claude", Elo: 1516, Matches: 1, Wins: 1},
		{AgentName: "gpt", Elo: 1484, Matches: 1, Losses: 1},
	}
	require.NoError(t, store.RecordMatch(match, updated))

	r, err := store.GetRating("claude")
	require.NoError(t, err)
	assert.Equal(t, 1516.0, r.Elo)
	assert.Equal(t, 1, r.Wins)

	board, err := store.Leaderboard(10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "claude", board[0].AgentName, "ordered by elo descending")

	history, err := store.MatchHistory("gpt", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "m1", history[0].ID)
	assert.Equal(t, []string{"claude", "gpt"}, history[0].Participants)
	assert.Equal(t, -16.0, history[0].EloChanges["gpt"])

	recent, err := store.RecentMatches(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "claude", recent[0].Winner)
}

func TestRecordMatchDuplicateRollsBack(t *testing.T) {
	store := newTestRatings(t)
	match := ranking.MatchRecord{
		ID:           "m1",
		DebateID:     "d1",
		Winner:       "claude",
		Participants: []string{"claude", "gpt"},
		Scores:       map[string]float64{"claude": 1, "gpt": 0},
		EloChanges:   map[string]float64{"claude": 16, "gpt": -16},
		Timestamp:    time.Now(),
	}
	updated := []ranking.Rating{
		{AgentName: "claude", Elo: 1516, Matches: 1, Wins: 1},
		{AgentName: "gpt", Elo: 1484, Matches: 1, Losses: 1},
	}
	require.NoError(t, store.RecordMatch(match, updated))

	// Replaying the same match id must fail and leave ratings untouched.
	bumped := []ranking.Rating{
		{AgentName: "claude", Elo: 1600, Matches: 2, Wins: 2},
	}
	require.Error(t, store.RecordMatch(match, bumped))

	r, err := store.GetRating("claude")
	require.NoError(t, err)
	assert.Equal(t, 1516.0, r.Elo)
	assert.Equal(t, 1, r.Matches)
}
