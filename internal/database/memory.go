package database

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Memory tiers. Observations accumulate during debates; once enough
// importance piles up an agent distills them into a reflection, and
// reflections in turn feed insights.
const (
	MemoryObservation = "observation"
	MemoryReflection  = "reflection"
	MemoryInsight     = "insight"
)

// DefaultReflectionThreshold is the accumulated importance at which an
// agent should pause and reflect.
const DefaultReflectionThreshold = 10.0

// MemoryEntry is one stored memory for one agent.
type MemoryEntry struct {
	ID         int64     `json:"id"`
	AgentName  string    `json:"agent_name"`
	MemoryType string    `json:"memory_type"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	DebateID   string    `json:"debate_id,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TierStats summarizes one agent's memory by tier.
type TierStats struct {
	AgentName    string         `json:"agent_name"`
	Counts       map[string]int `json:"counts"`
	TotalPending float64        `json:"total_pending_importance"`
}

// MemoryStore persists per-agent memories and supports ranked retrieval.
type MemoryStore struct {
	db *DB
}

var memoryMigrations = []Migration{
	{ID: 1, Name: "create_memories", SQL: `
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 1,
			debate_id TEXT,
			metadata TEXT,
			reflected INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_name, memory_type);
	`},
}

// NewMemoryStore opens the memory database and applies its migrations.
func NewMemoryStore(path string, timeout time.Duration) (*MemoryStore, error) {
	db, err := Open(path, timeout)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(memoryMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return &MemoryStore{db: db}, nil
}

// Close closes the memory database.
func (s *MemoryStore) Close() error { return s.db.Close() }

// Save stores one memory and returns its id.
func (s *MemoryStore) Save(entry MemoryEntry) (int64, error) {
	if entry.MemoryType == "" {
		entry.MemoryType = MemoryObservation
	}
	if entry.Importance <= 0 {
		entry.Importance = 1
	}
	res, err := s.db.ExecuteWrite(`
		INSERT INTO memories (agent_name, memory_type, content, importance, debate_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.AgentName, entry.MemoryType, entry.Content, entry.Importance,
		entry.DebateID, entry.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to save memory: %v", err)
	}
	return res.LastInsertId()
}

// Retrieve returns an agent's memories ranked by a blend of importance,
// recency and relevance to the query:
//
//	score = 0.5*importance_norm + 0.3*recency + 0.2*relevance
//
// where recency decays as exp(-age_hours/24) and relevance is word overlap
// with the query. An empty query drops the relevance term to zero for all
// rows, so ordering falls back to importance and recency.
func (s *MemoryStore) Retrieve(agentName, query string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []MemoryEntry
	err := s.db.FetchAll(`
		SELECT id, agent_name, memory_type, content, importance, debate_id, metadata, created_at
		FROM memories WHERE agent_name = ?`,
		[]interface{}{agentName},
		func(rows *sql.Rows) error {
			var e MemoryEntry
			var debateID, metadata sql.NullString
			if err := rows.Scan(&e.ID, &e.AgentName, &e.MemoryType, &e.Content,
				&e.Importance, &debateID, &metadata, &e.CreatedAt); err != nil {
				return err
			}
			e.DebateID = debateID.String
			e.Metadata = metadata.String
			entries = append(entries, e)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memories: %v", err)
	}

	queryWords := wordSet(query)
	now := time.Now()
	scores := make(map[int64]float64, len(entries))
	for _, e := range entries {
		importance := math.Min(e.Importance/10, 1)
		ageHours := now.Sub(e.CreatedAt).Hours()
		recency := math.Exp(-ageHours / 24)
		relevance := wordOverlap(queryWords, wordSet(e.Content))
		scores[e.ID] = 0.5*importance + 0.3*recency + 0.2*relevance
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return scores[entries[i].ID] > scores[entries[j].ID]
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// PendingImportance sums the importance of an agent's observations that
// have not yet fed a reflection.
func (s *MemoryStore) PendingImportance(agentName string) (float64, error) {
	var total float64
	err := s.db.FetchOne(`
		SELECT COALESCE(SUM(importance), 0) FROM memories
		WHERE agent_name = ? AND memory_type = ? AND reflected = 0`,
		[]interface{}{agentName, MemoryObservation},
		func(row *sql.Row) error { return row.Scan(&total) })
	if err != nil {
		return 0, fmt.Errorf("failed to sum importance: %v", err)
	}
	return total, nil
}

// ShouldReflect reports whether accumulated unreflected importance has
// crossed the threshold.
func (s *MemoryStore) ShouldReflect(agentName string, threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultReflectionThreshold
	}
	total, err := s.PendingImportance(agentName)
	if err != nil {
		return false, err
	}
	return total >= threshold, nil
}

// MarkReflected stores a reflection and marks the observations that fed it
// as consumed, atomically, so the pending importance counter resets.
func (s *MemoryStore) MarkReflected(agentName, reflection string, importance float64) error {
	if importance <= 0 {
		importance = 1
	}
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO memories (agent_name, memory_type, content, importance)
			VALUES (?, ?, ?, ?)`,
			agentName, MemoryReflection, reflection, importance); err != nil {
			return fmt.Errorf("failed to save reflection: %v", err)
		}
		if _, err := tx.Exec(`
			UPDATE memories SET reflected = 1
			WHERE agent_name = ? AND memory_type = ? AND reflected = 0`,
			agentName, MemoryObservation); err != nil {
			return fmt.Errorf("failed to mark observations: %v", err)
		}
		return nil
	})
}

// Stats returns per-tier counts and the pending importance for an agent.
func (s *MemoryStore) Stats(agentName string) (TierStats, error) {
	stats := TierStats{AgentName: agentName, Counts: make(map[string]int)}
	err := s.db.FetchAll(`
		SELECT memory_type, COUNT(*) FROM memories
		WHERE agent_name = ? GROUP BY memory_type`,
		[]interface{}{agentName},
		func(rows *sql.Rows) error {
			var tier string
			var count int
			if err := rows.Scan(&tier, &count); err != nil {
				return err
			}
			stats.Counts[tier] = count
			return nil
		})
	if err != nil {
		return stats, fmt.Errorf("failed to get memory stats: %v", err)
	}
	pending, err := s.PendingImportance(agentName)
	if err != nil {
		return stats, err
	}
	stats.TotalPending = pending
	return stats, nil
}

func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func wordOverlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for w := range query {
		if _, ok := content[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
