// Package store is the SQLite-backed forum data store: topics, posts and
// users, plus the filtered selection queries the replier runs over them.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Options carries the account conventions the selection queries depend on:
// the system account that never counts as a real author, and the email
// prefix that marks agent accounts.
type Options struct {
	SystemUserID     int64
	AgentEmailPrefix string
}

// Store handles all database operations
type Store struct {
	db               *sql.DB
	systemUserID     int64
	agentEmailPrefix string
}

// New creates a new Store with SQLite backend
func New(dbPath string, opts Options) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:               db,
		systemUserID:     opts.SystemUserID,
		agentEmailPrefix: opts.AgentEmailPrefix,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		archetype TEXT NOT NULL DEFAULT 'regular',
		closed BOOLEAN NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT 0,
		deleted_at DATETIME,
		user_id INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL,
		last_posted_at DATETIME NOT NULL,
		posts_count INTEGER NOT NULL DEFAULT 0,
		views INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL REFERENCES topics(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		post_number INTEGER NOT NULL,
		raw TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		deleted_at DATETIME,
		UNIQUE(topic_id, post_number)
	);

	CREATE INDEX IF NOT EXISTS idx_topics_created_at ON topics(created_at);
	CREATE INDEX IF NOT EXISTS idx_topics_last_posted_at ON topics(last_posted_at);
	CREATE INDEX IF NOT EXISTS idx_posts_topic_id ON posts(topic_id);
	CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	`

	_, err := s.db.Exec(schema)
	return err
}
