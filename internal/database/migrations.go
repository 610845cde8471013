package database

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/parleyhq/parley/internal/logging"
)

// Migration is one ordered schema step. IDs must be unique per database
// and ascending; applied migrations are recorded in a migrations table.
type Migration struct {
	ID   int
	Name string
	SQL  string
}

// MigrateUp applies any pending migrations in ID order.
func (d *DB) MigrateUp(migrations []Migration) error {
	if _, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %v", err)
	}

	applied := make(map[int]bool)
	err := d.FetchAll("SELECT id FROM migrations", nil, func(rows *sql.Rows) error {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		applied[id] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to query migrations: %v", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, migration := range sorted {
		if applied[migration.ID] {
			continue
		}
		err := d.WithTransaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migration.SQL); err != nil {
				return fmt.Errorf("failed to apply migration %d_%s: %v", migration.ID, migration.Name, err)
			}
			if _, err := tx.Exec("INSERT INTO migrations (id, name) VALUES (?, ?)", migration.ID, migration.Name); err != nil {
				return fmt.Errorf("failed to record migration %d_%s: %v", migration.ID, migration.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logging.LogDatabaseEvent("migration_applied", "migrations", map[string]interface{}{
			"id":   migration.ID,
			"name": migration.Name,
			"path": d.path,
		})
	}
	return nil
}
