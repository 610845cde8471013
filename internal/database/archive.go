package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DebateRecord is the archived form of a finished debate. ResultJSON holds
// the canonical artifact; the columns exist for listing and search without
// parsing every blob.
type DebateRecord struct {
	ID                string    `json:"id"`
	Slug              string    `json:"slug"`
	Task              string    `json:"task"`
	Agents            []string  `json:"agents"`
	Winner            string    `json:"winner,omitempty"`
	FinalAnswer       string    `json:"final_answer"`
	Confidence        float64   `json:"confidence"`
	ConsensusReached  bool      `json:"consensus_reached"`
	RoundsUsed        int       `json:"rounds_used"`
	DurationSeconds   float64   `json:"duration_seconds"`
	ConvergenceStatus string    `json:"convergence_status"`
	ResultJSON        []byte    `json:"-"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// FlipRecord notes a voter changing its choice between rounds.
type FlipRecord struct {
	DebateID   string    `json:"debate_id"`
	Agent      string    `json:"agent"`
	Round      int       `json:"round"`
	FromChoice string    `json:"from_choice"`
	ToChoice   string    `json:"to_choice"`
	CreatedAt  time.Time `json:"created_at"`
}

// InsightRecord is a short extracted takeaway from a finished debate.
type InsightRecord struct {
	DebateID  string    `json:"debate_id"`
	Kind      string    `json:"kind"` // winning_pattern | dissenting_view
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveStore owns the debate archive database. Artifacts are written
// once at debate end and read many times.
type ArchiveStore struct {
	db *DB
}

var archiveMigrations = []Migration{
	{ID: 1, Name: "create_debates", SQL: `
		CREATE TABLE IF NOT EXISTS debates (
			id TEXT PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			task TEXT NOT NULL,
			agents TEXT NOT NULL,
			winner TEXT,
			final_answer TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			consensus_reached INTEGER NOT NULL DEFAULT 0,
			rounds_used INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			convergence_status TEXT,
			result_json TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_debates_ended_at ON debates(ended_at DESC);
	`},
	{ID: 2, Name: "create_flips", SQL: `
		CREATE TABLE IF NOT EXISTS flips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			debate_id TEXT NOT NULL REFERENCES debates(id),
			agent TEXT NOT NULL,
			round INTEGER NOT NULL,
			from_choice TEXT NOT NULL,
			to_choice TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_flips_agent ON flips(agent);
	`},
	{ID: 3, Name: "create_insights", SQL: `
		CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			debate_id TEXT NOT NULL REFERENCES debates(id),
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`},
}

// NewArchiveStore opens the archive database and applies its migrations.
func NewArchiveStore(path string, timeout time.Duration) (*ArchiveStore, error) {
	db, err := Open(path, timeout)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(archiveMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return &ArchiveStore{db: db}, nil
}

// Close closes the archive database.
func (s *ArchiveStore) Close() error { return s.db.Close() }

// SaveDebate archives a finished debate with its flips and insights in one
// transaction. A record is written once; re-saving the same id fails.
func (s *ArchiveStore) SaveDebate(rec DebateRecord, flips []FlipRecord, insights []InsightRecord) error {
	agents, err := json.Marshal(rec.Agents)
	if err != nil {
		return fmt.Errorf("failed to encode agents: %v", err)
	}

	return s.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO debates (id, slug, task, agents, winner, final_answer, confidence,
				consensus_reached, rounds_used, duration_seconds, convergence_status,
				result_json, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Slug, rec.Task, string(agents), rec.Winner, rec.FinalAnswer,
			rec.Confidence, rec.ConsensusReached, rec.RoundsUsed, rec.DurationSeconds,
			rec.ConvergenceStatus, string(rec.ResultJSON), rec.StartedAt, rec.EndedAt)
		if err != nil {
			return fmt.Errorf("failed to archive debate: %v", err)
		}

		for _, flip := range flips {
			if _, err := tx.Exec(`
				INSERT INTO flips (debate_id, agent, round, from_choice, to_choice)
				VALUES (?, ?, ?, ?, ?)`,
				rec.ID, flip.Agent, flip.Round, flip.FromChoice, flip.ToChoice); err != nil {
				return fmt.Errorf("failed to save flip: %v", err)
			}
		}
		for _, insight := range insights {
			if _, err := tx.Exec(`
				INSERT INTO insights (debate_id, kind, content) VALUES (?, ?, ?)`,
				rec.ID, insight.Kind, insight.Content); err != nil {
				return fmt.Errorf("failed to save insight: %v", err)
			}
		}
		return nil
	})
}

const debateColumns = `id, slug, task, agents, winner, final_answer, confidence,
	consensus_reached, rounds_used, duration_seconds, convergence_status,
	result_json, started_at, ended_at`

func scanDebate(scan func(dest ...interface{}) error) (DebateRecord, error) {
	var rec DebateRecord
	var agents, resultJSON string
	var winner, convergence sql.NullString
	err := scan(&rec.ID, &rec.Slug, &rec.Task, &agents, &winner, &rec.FinalAnswer,
		&rec.Confidence, &rec.ConsensusReached, &rec.RoundsUsed, &rec.DurationSeconds,
		&convergence, &resultJSON, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		return rec, err
	}
	rec.Winner = winner.String
	rec.ConvergenceStatus = convergence.String
	rec.ResultJSON = []byte(resultJSON)
	if err := json.Unmarshal([]byte(agents), &rec.Agents); err != nil {
		return rec, fmt.Errorf("failed to decode agents: %v", err)
	}
	return rec, nil
}

// GetByID fetches one archived debate.
func (s *ArchiveStore) GetByID(id string) (*DebateRecord, error) {
	var rec DebateRecord
	err := s.db.FetchOne(
		fmt.Sprintf("SELECT %s FROM debates WHERE id = ?", debateColumns),
		[]interface{}{id},
		func(row *sql.Row) error {
			var scanErr error
			rec, scanErr = scanDebate(row.Scan)
			return scanErr
		})
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("debate not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debate: %v", err)
	}
	return &rec, nil
}

// GetBySlug fetches one archived debate by its slug.
func (s *ArchiveStore) GetBySlug(slug string) (*DebateRecord, error) {
	var rec DebateRecord
	err := s.db.FetchOne(
		fmt.Sprintf("SELECT %s FROM debates WHERE slug = ?", debateColumns),
		[]interface{}{slug},
		func(row *sql.Row) error {
			var scanErr error
			rec, scanErr = scanDebate(row.Scan)
			return scanErr
		})
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("debate not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debate: %v", err)
	}
	return &rec, nil
}

// ListRecent returns archived debates newest first.
func (s *ArchiveStore) ListRecent(limit, offset int) ([]DebateRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []DebateRecord
	err := s.db.FetchAll(
		fmt.Sprintf("SELECT %s FROM debates ORDER BY ended_at DESC LIMIT ? OFFSET ?", debateColumns),
		[]interface{}{limit, offset},
		func(rows *sql.Rows) error {
			rec, err := scanDebate(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list debates: %v", err)
	}
	return out, nil
}

// SearchByTask returns debates whose task contains the query substring.
func (s *ArchiveStore) SearchByTask(query string, limit int) ([]DebateRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []DebateRecord
	err := s.db.FetchAll(
		fmt.Sprintf("SELECT %s FROM debates WHERE task LIKE ? ORDER BY ended_at DESC LIMIT ?", debateColumns),
		[]interface{}{"%" + query + "%", limit},
		func(rows *sql.Rows) error {
			rec, err := scanDebate(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to search debates: %v", err)
	}
	return out, nil
}

// Count returns the number of archived debates.
func (s *ArchiveStore) Count() (int, error) {
	var n int
	err := s.db.FetchOne("SELECT COUNT(*) FROM debates", nil, func(row *sql.Row) error {
		return row.Scan(&n)
	})
	return n, err
}

// RecentFlips returns the latest recorded position changes.
func (s *ArchiveStore) RecentFlips(limit int) ([]FlipRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []FlipRecord
	err := s.db.FetchAll(`
		SELECT debate_id, agent, round, from_choice, to_choice, created_at
		FROM flips ORDER BY id DESC LIMIT ?`,
		[]interface{}{limit},
		func(rows *sql.Rows) error {
			var f FlipRecord
			if err := rows.Scan(&f.DebateID, &f.Agent, &f.Round, &f.FromChoice, &f.ToChoice, &f.CreatedAt); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list flips: %v", err)
	}
	return out, nil
}

// FlipSummary returns flip counts per agent.
func (s *ArchiveStore) FlipSummary() (map[string]int, error) {
	summary := make(map[string]int)
	err := s.db.FetchAll(
		"SELECT agent, COUNT(*) FROM flips GROUP BY agent", nil,
		func(rows *sql.Rows) error {
			var agent string
			var count int
			if err := rows.Scan(&agent, &count); err != nil {
				return err
			}
			summary[agent] = count
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize flips: %v", err)
	}
	return summary, nil
}

// RecentInsights returns the latest extracted insights.
func (s *ArchiveStore) RecentInsights(limit int) ([]InsightRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []InsightRecord
	err := s.db.FetchAll(`
		SELECT debate_id, kind, content, created_at
		FROM insights ORDER BY id DESC LIMIT ?`,
		[]interface{}{limit},
		func(rows *sql.Rows) error {
			var rec InsightRecord
			if err := rows.Scan(&rec.DebateID, &rec.Kind, &rec.Content, &rec.CreatedAt); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %v", err)
	}
	return out, nil
}
