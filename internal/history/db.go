// Package history keeps a journal of mutating commands in a SQLite
// database, one row per action. The status and history commands read it to
// answer "is an update in progress" and "what happened recently" without
// re-deriving anything from the filesystem.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned when a read-only consumer opens the journal
// before any mutating command has created it.
var ErrNotInitialized = errors.New("history database not initialized")

// Store provides SQLite operations over the action journal.
type Store struct {
	db *sql.DB
}

// New creates a new Store at the specified database path, creating the file
// when needed. Use ":memory:" for in-memory databases (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// OpenExisting opens the journal only if it already exists on disk, so
// read-only commands never create an empty database as a side effect.
func OpenExisting(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return New(dbPath)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateSchema creates the journal table and indexes. Safe to call on every
// open.
func (s *Store) CreateSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
