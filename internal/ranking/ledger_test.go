package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	ratings map[string]Rating
	matches []MatchRecord
}

func newMemStore() *memStore {
	return &memStore{ratings: make(map[string]Rating)}
}

func (s *memStore) GetRating(name string) (Rating, error) {
	if r, ok := s.ratings[name]; ok {
		return r, nil
	}
	return Rating{AgentName: name, Elo: DefaultElo}, nil
}

func (s *memStore) RecordMatch(match MatchRecord, updated []Rating) error {
	s.matches = append(s.matches, match)
	for _, r := range updated {
		s.ratings[r.AgentName] = r
	}
	return nil
}

func (s *memStore) Leaderboard(limit int) ([]Rating, error) { return nil, nil }

func (s *memStore) MatchHistory(name string, limit int) ([]MatchRecord, error) {
	return nil, nil
}

func (s *memStore) RecentMatches(limit int) ([]MatchRecord, error) { return nil, nil }

func TestRecordDebateUpdatesRatings(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store, 32, nil)

	match, err := ledger.RecordDebate("d1", "alice", []string{"alice", "bob"}, "")
	require.NoError(t, err)
	require.NotNil(t, match)

	alice := store.ratings["alice"]
	bob := store.ratings["bob"]
	assert.InDelta(t, DefaultElo+16, alice.Elo, 0.01)
	assert.InDelta(t, DefaultElo-16, bob.Elo, 0.01)
	assert.Equal(t, 1, alice.Wins)
	assert.Equal(t, 1, bob.Losses)
}

func TestRecordDebateSkipsUndecided(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store, 32, nil)

	match, err := ledger.RecordDebate("d1", "", []string{"alice", "bob"}, "")
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = ledger.RecordDebate("d2", "alice", []string{"alice"}, "")
	require.NoError(t, err)
	assert.Nil(t, match)

	assert.Empty(t, store.matches)
}

func TestRecordDebateRejectsForeignWinner(t *testing.T) {
	ledger := NewLedger(newMemStore(), 32, nil)
	_, err := ledger.RecordDebate("d1", "carol", []string{"alice", "bob"}, "")
	assert.Error(t, err)
}

func TestKDecayScalesPerAgent(t *testing.T) {
	store := newMemStore()
	store.ratings["alice"] = Rating{AgentName: "alice", Elo: DefaultElo, Matches: 100}

	ledger := NewLedger(store, 32, nil)
	ledger.SetKDecay(func(matches int) float64 {
		if matches >= 50 {
			return 16
		}
		return 32
	})

	_, err := ledger.RecordDebate("d1", "alice", []string{"alice", "bob"}, "")
	require.NoError(t, err)

	// The veteran moves at half the K of the newcomer.
	assert.InDelta(t, DefaultElo+8, store.ratings["alice"].Elo, 0.01)
	assert.InDelta(t, DefaultElo-16, store.ratings["bob"].Elo, 0.01)
}
