package ranking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
)

// Store is the persistence contract the ledger writes through. RecordMatch
// must apply the match row and all rating updates in one transaction.
type Store interface {
	GetRating(agentName string) (Rating, error)
	RecordMatch(match MatchRecord, updated []Rating) error
	Leaderboard(limit int) ([]Rating, error)
	MatchHistory(agentName string, limit int) ([]MatchRecord, error)
	RecentMatches(limit int) ([]MatchRecord, error)
}

// Ledger applies debate outcomes to agent ratings.
type Ledger struct {
	store   Store
	k       float64
	decay   KDecayFn
	emitter *events.Emitter
}

// NewLedger creates a ledger with the given K-factor (<=0 uses the
// default). The emitter may be nil; match events are then not broadcast.
func NewLedger(store Store, k float64, emitter *events.Emitter) *Ledger {
	if k <= 0 {
		k = DefaultKFactor
	}
	return &Ledger{store: store, k: k, emitter: emitter}
}

// SetKDecay installs a per-agent K-factor decay. With no decay installed
// every agent uses the ledger's fixed K.
func (l *Ledger) SetKDecay(fn KDecayFn) { l.decay = fn }

// RecordDebate records a decided debate as a match. A debate with no
// winner (a tie or failed debate) is not recorded and returns nil.
func (l *Ledger) RecordDebate(debateID, winner string, participants []string, domain string) (*MatchRecord, error) {
	if winner == "" {
		return nil, nil
	}
	if len(participants) < 2 {
		return nil, nil
	}

	ratings := make(map[string]float64, len(participants))
	current := make(map[string]Rating, len(participants))
	scores := make(map[string]float64, len(participants))
	winnerSeen := false
	for _, name := range participants {
		r, err := l.store.GetRating(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load rating for %s: %v", name, err)
		}
		current[name] = r
		ratings[name] = r.Elo
		if name == winner {
			scores[name] = 1
			winnerSeen = true
		} else {
			scores[name] = 0
		}
	}
	if !winnerSeen {
		return nil, fmt.Errorf("winner %s is not a participant", winner)
	}

	deltas := ComputeDeltas(ratings, scores, l.k)
	if l.decay != nil {
		for _, name := range participants {
			deltas[name] *= l.decay(current[name].Matches) / l.k
		}
	}

	match := MatchRecord{
		ID:           uuid.New().String(),
		DebateID:     debateID,
		Winner:       winner,
		Participants: participants,
		Scores:       scores,
		EloChanges:   deltas,
		Timestamp:    time.Now(),
		Domain:       domain,
	}

	updated := make([]Rating, 0, len(participants))
	for _, name := range participants {
		r := current[name]
		r.Elo += deltas[name]
		r.Matches++
		switch scores[name] {
		case 1:
			r.Wins++
		case 0.5:
			r.Draws++
		default:
			r.Losses++
		}
		updated = append(updated, r)
	}

	if err := l.store.RecordMatch(match, updated); err != nil {
		return nil, fmt.Errorf("failed to record match: %v", err)
	}

	logging.LogMatchEvent("match_recorded", match.ID, map[string]interface{}{
		"debate_id":    debateID,
		"winner":       winner,
		"participants": participants,
	})

	if l.emitter != nil {
		l.emitter.Emit(events.Event{
			Kind: events.KindMatchRecorded,
			Data: map[string]interface{}{
				"match_id":    match.ID,
				"debate_id":   debateID,
				"winner":      winner,
				"elo_changes": deltas,
			},
		})
		if leaderboard, err := l.store.Leaderboard(10); err == nil {
			l.emitter.Emit(events.Event{
				Kind: events.KindLeaderboardUpdate,
				Data: map[string]interface{}{"leaderboard": leaderboard},
			})
		}
	}
	return &match, nil
}

// Leaderboard returns the top agents by rating.
func (l *Ledger) Leaderboard(limit int) ([]Rating, error) {
	return l.store.Leaderboard(limit)
}

// MatchHistory returns an agent's recent matches, newest first.
func (l *Ledger) MatchHistory(agentName string, limit int) ([]MatchRecord, error) {
	return l.store.MatchHistory(agentName, limit)
}

// RecentMatches returns the most recent matches across all agents.
func (l *Ledger) RecentMatches(limit int) ([]MatchRecord, error) {
	return l.store.RecentMatches(limit)
}
