package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend SQLite partition storage implementation.
// Every record is one row tagged with its partition key; row ids keep write order.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend creates a new SQLite backend
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, newStorageError("create database directory", dir, err)
	}

	// Open database; full sync so a committed row survives a crash
	db, err := sql.Open("sqlite3", dbPath+"?_sync=FULL&_journal_mode=WAL")
	if err != nil {
		return nil, newStorageError("open database", dbPath, err)
	}
	// A single connection keeps appends strictly ordered
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, path: dbPath}

	// Initialize tables
	if err := b.initTables(); err != nil {
		db.Close()
		return nil, newStorageError("initialize database tables", dbPath, err)
	}

	return b, nil
}

// initTables initializes database tables
func (b *SQLiteBackend) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			day TEXT NOT NULL,
			line TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_day ON events(day, id)`,
	}

	for _, query := range queries {
		if _, err := b.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %s, error: %w", query, err)
		}
	}
	return nil
}

// Keys lists distinct partition keys
func (b *SQLiteBackend) Keys() ([]string, error) {
	rows, err := b.db.Query(`SELECT DISTINCT day FROM events`)
	if err != nil {
		return nil, newStorageError("list partitions", b.path, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, newStorageError("scan partition", b.path, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("list partitions", b.path, err)
	}
	return keys, nil
}

// Append inserts one line; the insert is its own transaction
func (b *SQLiteBackend) Append(key string, line []byte) error {
	if _, err := b.db.Exec(
		"INSERT INTO events (day, line) VALUES (?, ?)",
		key, string(line),
	); err != nil {
		return newStorageError("append record", b.path, err)
	}
	return nil
}

// Lines returns the partition's lines in insertion order
func (b *SQLiteBackend) Lines(key string) ([][]byte, error) {
	rows, err := b.db.Query(
		`SELECT line FROM events WHERE day = ? ORDER BY id ASC`,
		key,
	)
	if err != nil {
		return nil, newStorageError("read partition", b.path, err)
	}
	defer rows.Close()

	var lines [][]byte
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, newStorageError("scan record", b.path, err)
		}
		lines = append(lines, []byte(line))
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("read partition", b.path, err)
	}
	return lines, nil
}

// Remove deletes every row of the partition
func (b *SQLiteBackend) Remove(key string) error {
	if _, err := b.db.Exec("DELETE FROM events WHERE day = ?", key); err != nil {
		return newStorageError("remove partition", b.path, err)
	}
	return nil
}

// Location returns the database path
func (b *SQLiteBackend) Location() string {
	return b.path
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
