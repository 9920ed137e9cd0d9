// Package storage persists the local peer's data in a single SQLite file:
// login profiles, session tokens, the message history and the peer cache.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database under dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "aura.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrency between the HTTP handlers and the relay loops.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			avatar        TEXT DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token      TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content     TEXT NOT NULL,
			type        TEXT NOT NULL DEFAULT 'text',
			media_url   TEXT DEFAULT '',
			timestamp   INTEGER NOT NULL,
			status      TEXT NOT NULL DEFAULT 'sent'
		);
		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages (sender_id, receiver_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages (receiver_id, status);

		CREATE TABLE IF NOT EXISTS peer_cache (
			peer_id   TEXT PRIMARY KEY,
			username  TEXT NOT NULL,
			avatar    TEXT DEFAULT '',
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the location of the database file.
func (d *DB) Path() string { return d.path }

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
