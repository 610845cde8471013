package database

import (
	"database/sql"
	"fmt"
	"time"
)

// WebhookStore tracks processed webhook event ids so that redelivered
// events are recognized and skipped.
type WebhookStore struct {
	db *DB
}

var webhookMigrations = []Migration{
	{ID: 1, Name: "create_webhook_events", SQL: `
		CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`},
}

// NewWebhookStore opens the webhook database and applies its migrations.
func NewWebhookStore(path string, timeout time.Duration) (*WebhookStore, error) {
	db, err := Open(path, timeout)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(webhookMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return &WebhookStore{db: db}, nil
}

// Close closes the webhook database.
func (s *WebhookStore) Close() error { return s.db.Close() }

// MarkProcessed records the event id. It returns true if the event is new
// and false if it was already processed, so callers can treat duplicate
// deliveries as no-ops.
func (s *WebhookStore) MarkProcessed(eventID, source string) (bool, error) {
	res, err := s.db.ExecuteWrite(`
		INSERT OR IGNORE INTO webhook_events (event_id, source) VALUES (?, ?)`,
		eventID, source)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Seen reports whether the event id was already processed.
func (s *WebhookStore) Seen(eventID string) (bool, error) {
	var one int
	err := s.db.FetchOne(
		"SELECT 1 FROM webhook_events WHERE event_id = ?",
		[]interface{}{eventID},
		func(row *sql.Row) error { return row.Scan(&one) })
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %v", err)
	}
	return true, nil
}

// Purge deletes processed event ids older than the retention window.
func (s *WebhookStore) Purge(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecuteWrite(
		"DELETE FROM webhook_events WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge webhook events: %v", err)
	}
	return res.RowsAffected()
}
