package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/ranking"
)

// RatingStore persists agent ratings and match history. It implements
// ranking.Store on top of the shared sqlite wrapper.
type RatingStore struct {
	db *DB
}

var ratingMigrations = []Migration{
	{ID: 1, Name: "create_ratings", SQL: `
		CREATE TABLE IF NOT EXISTS ratings (
			agent_name TEXT PRIMARY KEY,
			elo REAL NOT NULL DEFAULT 1500,
			matches INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			draws INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`},
	{ID: 2, Name: "create_matches", SQL: `
		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			debate_id TEXT NOT NULL,
			winner TEXT NOT NULL,
			domain TEXT,
			timestamp TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_matches_timestamp ON matches(timestamp DESC);

		CREATE TABLE IF NOT EXISTS match_participants (
			match_id TEXT NOT NULL REFERENCES matches(id),
			agent_name TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (match_id, agent_name)
		);
		CREATE INDEX IF NOT EXISTS idx_participants_agent ON match_participants(agent_name);

		CREATE TABLE IF NOT EXISTS elo_changes (
			match_id TEXT NOT NULL REFERENCES matches(id),
			agent_name TEXT NOT NULL,
			delta REAL NOT NULL,
			elo_after REAL NOT NULL,
			PRIMARY KEY (match_id, agent_name)
		);
	`},
}

// NewRatingStore opens the rating database and applies its migrations.
func NewRatingStore(path string, timeout time.Duration) (*RatingStore, error) {
	db, err := Open(path, timeout)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ratingMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return &RatingStore{db: db}, nil
}

// Close closes the rating database.
func (s *RatingStore) Close() error { return s.db.Close() }

// GetRating returns the stored rating for an agent, or a fresh default
// rating if the agent has never played.
func (s *RatingStore) GetRating(name string) (ranking.Rating, error) {
	var r ranking.Rating
	err := s.db.FetchOne(`
		SELECT agent_name, elo, matches, wins, losses, draws
		FROM ratings WHERE agent_name = ?`,
		[]interface{}{name},
		func(row *sql.Row) error {
			return row.Scan(&r.AgentName, &r.Elo, &r.Matches, &r.Wins, &r.Losses, &r.Draws)
		})
	if err == sql.ErrNoRows {
		return ranking.Rating{AgentName: name, Elo: ranking.DefaultElo}, nil
	}
	if err != nil {
		return r, fmt.Errorf("failed to get rating: %v", err)
	}
	return r, nil
}

// RecordMatch writes the match, its participants, the per-agent elo changes
// and the updated ratings atomically. A partially recorded match never
// becomes visible.
func (s *RatingStore) RecordMatch(match ranking.MatchRecord, updated []ranking.Rating) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO matches (id, debate_id, winner, domain, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			match.ID, match.DebateID, match.Winner, match.Domain, match.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert match: %v", err)
		}

		for _, name := range match.Participants {
			if _, err := tx.Exec(`
				INSERT INTO match_participants (match_id, agent_name, score)
				VALUES (?, ?, ?)`,
				match.ID, name, match.Scores[name]); err != nil {
				return fmt.Errorf("failed to insert participant: %v", err)
			}
		}

		for _, r := range updated {
			if _, err := tx.Exec(`
				INSERT INTO elo_changes (match_id, agent_name, delta, elo_after)
				VALUES (?, ?, ?, ?)`,
				match.ID, r.AgentName, match.EloChanges[r.AgentName], r.Elo); err != nil {
				return fmt.Errorf("failed to insert elo change: %v", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO ratings (agent_name, elo, matches, wins, losses, draws, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(agent_name) DO UPDATE SET
					elo = excluded.elo,
					matches = excluded.matches,
					wins = excluded.wins,
					losses = excluded.losses,
					draws = excluded.draws,
					updated_at = CURRENT_TIMESTAMP`,
				r.AgentName, r.Elo, r.Matches, r.Wins, r.Losses, r.Draws); err != nil {
				return fmt.Errorf("failed to update rating: %v", err)
			}
		}
		return nil
	})
}

// Leaderboard returns ratings ordered by elo descending.
func (s *RatingStore) Leaderboard(limit int) ([]ranking.Rating, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []ranking.Rating
	err := s.db.FetchAll(`
		SELECT agent_name, elo, matches, wins, losses, draws
		FROM ratings ORDER BY elo DESC, agent_name ASC LIMIT ?`,
		[]interface{}{limit},
		func(rows *sql.Rows) error {
			var r ranking.Rating
			if err := rows.Scan(&r.AgentName, &r.Elo, &r.Matches, &r.Wins, &r.Losses, &r.Draws); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %v", err)
	}
	return out, nil
}

func (s *RatingStore) fetchMatches(query string, args []interface{}) ([]ranking.MatchRecord, error) {
	var out []ranking.MatchRecord
	err := s.db.FetchAll(query, args, func(rows *sql.Rows) error {
		var m ranking.MatchRecord
		var domain sql.NullString
		if err := rows.Scan(&m.ID, &m.DebateID, &m.Winner, &domain, &m.Timestamp); err != nil {
			return err
		}
		m.Domain = domain.String
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadMatchDetail(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *RatingStore) loadMatchDetail(m *ranking.MatchRecord) error {
	m.Scores = make(map[string]float64)
	m.EloChanges = make(map[string]float64)
	err := s.db.FetchAll(`
		SELECT agent_name, score FROM match_participants WHERE match_id = ? ORDER BY agent_name`,
		[]interface{}{m.ID},
		func(rows *sql.Rows) error {
			var name string
			var score float64
			if err := rows.Scan(&name, &score); err != nil {
				return err
			}
			m.Participants = append(m.Participants, name)
			m.Scores[name] = score
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load participants: %v", err)
	}
	err = s.db.FetchAll(`
		SELECT agent_name, delta FROM elo_changes WHERE match_id = ?`,
		[]interface{}{m.ID},
		func(rows *sql.Rows) error {
			var name string
			var delta float64
			if err := rows.Scan(&name, &delta); err != nil {
				return err
			}
			m.EloChanges[name] = delta
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load elo changes: %v", err)
	}
	return nil
}

// MatchHistory returns an agent's matches, newest first.
func (s *RatingStore) MatchHistory(name string, limit int) ([]ranking.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	matches, err := s.fetchMatches(`
		SELECT m.id, m.debate_id, m.winner, m.domain, m.timestamp
		FROM matches m
		JOIN match_participants p ON p.match_id = m.id
		WHERE p.agent_name = ?
		ORDER BY m.timestamp DESC LIMIT ?`,
		[]interface{}{name, limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get match history: %v", err)
	}
	return matches, nil
}

// RecentMatches returns the latest matches across all agents.
func (s *RatingStore) RecentMatches(limit int) ([]ranking.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	matches, err := s.fetchMatches(`
		SELECT id, debate_id, winner, domain, timestamp
		FROM matches ORDER BY timestamp DESC LIMIT ?`,
		[]interface{}{limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent matches: %v", err)
	}
	return matches, nil
}
