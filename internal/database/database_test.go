package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	migrations := []Migration{
		{ID: 1, Name: "create_items", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"},
	}

	require.NoError(t, db.MigrateUp(migrations))
	require.NoError(t, db.MigrateUp(migrations))

	_, err := db.ExecuteWrite("INSERT INTO items (name) VALUES (?)", "one")
	require.NoError(t, err)

	var count int
	err = db.FetchOne("SELECT COUNT(*) FROM items", nil, func(row *sql.Row) error {
		return row.Scan(&count)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateUp([]Migration{
		{ID: 1, Name: "create_items", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"},
	}))

	err := db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO items (name) VALUES (?)", "keep"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.FetchOne("SELECT COUNT(*) FROM items", nil, func(row *sql.Row) error {
		return row.Scan(&count)
	}))
	assert.Equal(t, 0, count, "rolled back insert must not be visible")
}

func TestExecuteMany(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateUp([]Migration{
		{ID: 1, Name: "create_items", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"},
	}))

	err := db.ExecuteMany("INSERT INTO items (name) VALUES (?)", [][]interface{}{
		{"a"}, {"b"}, {"c"},
	})
	require.NoError(t, err)

	var names []string
	require.NoError(t, db.FetchAll("SELECT name FROM items ORDER BY id", nil, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
