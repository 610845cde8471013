package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parleyhq/parley/internal/logging"
)

// DefaultBusyTimeout is how long sqlite waits on a locked database before
// failing a statement.
const DefaultBusyTimeout = 5 * time.Second

// DB wraps one sqlite database file. Connections are pooled by database/sql
// and scoped per operation; WAL mode keeps readers off the writer's lock.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the sqlite database at path with WAL
// journaling and a busy timeout.
func Open(path string, timeout time.Duration) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, timeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// FetchOne runs a query expected to return at most one row and hands the
// row to scan. Returns sql.ErrNoRows when nothing matched.
func (d *DB) FetchOne(query string, args []interface{}, scan func(*sql.Row) error) error {
	row := d.db.QueryRow(query, args...)
	return scan(row)
}

// FetchAll runs a query and invokes scan once per row.
func (d *DB) FetchAll(query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ExecuteWrite runs one write statement and returns the result.
func (d *DB) ExecuteWrite(query string, args ...interface{}) (sql.Result, error) {
	result, err := d.db.Exec(query, args...)
	if err != nil {
		logging.LogDatabaseEvent("write_failed", "", map[string]interface{}{
			"path":  d.path,
			"error": err.Error(),
		})
		return nil, err
	}
	return result, nil
}

// ExecuteMany runs the same statement for each argument tuple inside one
// transaction.
func (d *DB) ExecuteMany(query string, argSets [][]interface{}) error {
	return d.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, args := range argSets {
			if _, err := stmt.Exec(args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithTransaction runs fn inside BEGIN/COMMIT, rolling back on error or
// panic.
func (d *DB) WithTransaction(fn func(*sql.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}
