// Package store is the daemon's embedded relational store: events, agent
// sessions, mesh messages, coordination rules, tasks, shared context, and
// preferences, all backed by a single SQLite file with WAL enabled.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup by id/key finds no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *sql.DB. Every operation opens/uses a connection from the
// pool and commits synchronously within that call — no transaction is ever
// held across a suspension point. The pool is capped at one connection, so
// store calls within this process run one at a time.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory if needed, opens the database, enables
// WAL, creates the schema if absent, and runs the idempotent migration list.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Single-writer semantics: cap to one physical connection so WAL-mode
	// writers never race each other at the driver level.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	for _, m := range migrations {
		// Migrations target older databases that predate a column/table;
		// a failure here almost always means "already applied" and is
		// ignored, matching the original daemon's try/except-per-migration
		// behavior.
		_, _ = s.db.ExecContext(ctx, m)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name        TEXT NOT NULL,
	session_id        TEXT NOT NULL DEFAULT '',
	parent_session_id TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT 'completion',
	title             TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	project_cwd       TEXT NOT NULL DEFAULT '',
	git_branch        TEXT NOT NULL DEFAULT '',
	terminal          TEXT NOT NULL DEFAULT '{}',
	work_summary      TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS agent_sessions (
	session_id        TEXT PRIMARY KEY,
	parent_session_id TEXT NOT NULL DEFAULT '',
	agent_name        TEXT NOT NULL,
	project_cwd       TEXT NOT NULL DEFAULT '',
	git_branch        TEXT NOT NULL DEFAULT '',
	terminal          TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'active',
	last_event        TEXT NOT NULL DEFAULT 'completion',
	first_seen        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	last_seen         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	last_heartbeat    TEXT NOT NULL DEFAULT '',
	ended_at          TEXT NOT NULL DEFAULT '',
	event_count       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	from_session  TEXT NOT NULL,
	to_session    TEXT NOT NULL,
	message_type  TEXT NOT NULL DEFAULT 'handoff',
	content       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	delivered_at  TEXT
);

CREATE TABLE IF NOT EXISTS coordination_rules (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	from_agent  TEXT NOT NULL DEFAULT '*',
	to_agent    TEXT NOT NULL DEFAULT '*',
	event_type  TEXT NOT NULL DEFAULT '*',
	action      TEXT NOT NULL DEFAULT 'approve',
	priority    INTEGER NOT NULL DEFAULT 0,
	template    TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS tasks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      TEXT NOT NULL DEFAULT 'medium',
	dependencies  TEXT NOT NULL DEFAULT '[]',
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS context_variables (
	key           TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT 'global',
	value         TEXT NOT NULL DEFAULT '',
	updated_by    TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (key, scope)
);
`

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_name)",
	"CREATE INDEX IF NOT EXISTS idx_events_category ON events(category)",
	"CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)",
	"CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)",
	"CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_session)",
	"CREATE INDEX IF NOT EXISTS idx_sessions_parent ON agent_sessions(parent_session_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)",
	"CREATE INDEX IF NOT EXISTS idx_context_scope ON context_variables(scope)",
}

// migrations upgrade databases created by older schema versions. Each is
// idempotent on its own (IF NOT EXISTS / additive ADD COLUMN) and a failure
// — almost always "duplicate column" or "table already exists" — is treated
// as already-applied and ignored by init().
var migrations = []string{
	"ALTER TABLE events ADD COLUMN parent_session_id TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE events ADD COLUMN work_summary TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE agent_sessions ADD COLUMN parent_session_id TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE agent_sessions ADD COLUMN last_heartbeat TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE agent_sessions ADD COLUMN ended_at TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE coordination_rules ADD COLUMN priority INTEGER NOT NULL DEFAULT 0",
	"ALTER TABLE coordination_rules ADD COLUMN template TEXT NOT NULL DEFAULT ''",
}
