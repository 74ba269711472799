// Package store is the server's metadata database: one row per synced file,
// the compiled permission rules, and the rule-to-file link table. The
// snapshot folder on disk is authoritative; everything here can be rebuilt by
// a rescan.
package store

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrNotOneRow  = errors.New("store: expected exactly one affected row")
	ErrUserExists = errors.New("store: user already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS file_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	signature TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	last_modified TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_metadata_path ON file_metadata(path);

CREATE TABLE IF NOT EXISTS permission_rule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	permfile_dir TEXT NOT NULL,
	permfile_depth INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	path_pattern TEXT NOT NULL,
	user TEXT NOT NULL,
	can_read BOOLEAN NOT NULL DEFAULT 0,
	can_create BOOLEAN NOT NULL DEFAULT 0,
	can_write BOOLEAN NOT NULL DEFAULT 0,
	admin BOOLEAN NOT NULL DEFAULT 0,
	disallow BOOLEAN NOT NULL DEFAULT 0,
	terminal BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_permission_rule_dir ON permission_rule(permfile_dir);

CREATE TABLE IF NOT EXISTS rule_file_link (
	rule_id INTEGER NOT NULL REFERENCES permission_rule(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	PRIMARY KEY (rule_id, file_path)
);
CREATE INDEX IF NOT EXISTS idx_rule_file_link_path ON rule_file_link(file_path);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
`

// Store wraps the sqlite handle with the sync core's queries.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
