// Package sqlite implements store.Store on SQLite for single-machine
// swarms that need durable state. Entities are stored as JSON with the
// columns the queries filter or sort on mirrored alongside. Fencing
// counters live in their own table so tokens keep increasing after a
// lock row is deleted.
//
// Usage:
//
//	s, err := sqlite.Open("swarm.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/recurring"
	"github.com/hugoboss23-5/swarm/task"
)

// Compile-time interface checks.
var (
	_ task.Store      = (*Store)(nil)
	_ node.Store      = (*Store)(nil)
	_ lock.Store      = (*Store)(nil)
	_ consensus.Store = (*Store)(nil)
	_ archive.Store   = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) a SQLite database at path and wraps it in a
// Store. The Store owns the handle; Close releases it.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids lock
	// contention errors under concurrent use.
	db.SetMaxOpenConns(1)
	return New(db, opts...), nil
}

// New wraps an existing database handle. The Store takes ownership;
// Close closes the handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS swarm_tasks (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	assigned_node TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swarm_tasks_state ON swarm_tasks(state);
CREATE INDEX IF NOT EXISTS idx_swarm_tasks_node  ON swarm_tasks(assigned_node);

CREATE TABLE IF NOT EXISTS swarm_nodes (
	id             TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	last_heartbeat INTEGER NOT NULL,
	data           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS swarm_locks (
	key        TEXT PRIMARY KEY,
	token      INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS swarm_fences (
	key     TEXT PRIMARY KEY,
	counter INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS swarm_transitions (
	version INTEGER PRIMARY KEY,
	data    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS swarm_state (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS swarm_archive (
	id          TEXT PRIMARY KEY,
	final_state TEXT NOT NULL,
	archived_at INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swarm_archive_at ON swarm_archive(archived_at);

CREATE TABLE IF NOT EXISTS swarm_recurring (
	id         TEXT PRIMARY KEY,
	name_lower TEXT NOT NULL UNIQUE,
	data       TEXT NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("swarm/sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isConstraintErr reports whether err is a unique or primary key
// constraint violation.
func isConstraintErr(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
