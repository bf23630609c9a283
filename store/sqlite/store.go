// Package sqlite implements store.Store using database/sql with the
// mattn/go-sqlite3 driver. It targets the embedded, single-writer
// deployment: one ingester process against one database file, so RunStep
// claims use a conditional UPDATE ... RETURNING instead of
// FOR UPDATE SKIP LOCKED, which SQLite does not support.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soliplex/ingester/store"
)

// sqlIface is satisfied by both *sql.DB and *sql.Tx, letting every CRUD
// method in this package run against either the database directly or an
// open transaction.
type sqlIface interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ sqlIface = (*sql.DB)(nil)
	_ sqlIface = (*sql.Tx)(nil)
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)
var _ store.Transactor = (*Store)(nil)

// execer implements every CRUD method in this package against a
// sqlIface. Store and txStore each embed one, pointed at the database
// handle or an open transaction respectively, so the same query code
// serves both.
type execer struct {
	q sqlIface
}

// Store is a SQLite implementation of store.Store.
type Store struct {
	execer
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger used for migration progress messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens a SQLite database at path (use "file::memory:?cache=shared"
// for an in-process instance) and returns a Store. Sets max open
// connections to 1: SQLite serializes writers regardless, and a single
// connection avoids "database is locked" errors under mattn/go-sqlite3's
// connection pooling.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return nil, fmt.Errorf("ingester/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{execer: execer{q: db}, db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate runs every embedded SQL migration file in order, skipping ones
// already recorded as applied.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ingester_migrations (
			filename TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ingester/sqlite: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ingester/sqlite: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ingester_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("ingester/sqlite: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("ingester/sqlite: read migration %s: %w", entry.Name(), readErr)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, execErr := s.db.ExecContext(ctx, stmt); execErr != nil {
				return fmt.Errorf("ingester/sqlite: execute migration %s: %w", entry.Name(), execErr)
			}
		}
		if _, recErr := s.db.ExecContext(ctx, `INSERT INTO ingester_migrations (filename) VALUES (?)`, entry.Name()); recErr != nil {
			return fmt.Errorf("ingester/sqlite: record migration %s: %w", entry.Name(), recErr)
		}
		s.logger.Info("applied migration", "file", entry.Name())
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside one SQLite transaction, rolling back on error or
// panic. The transaction begins in SQLite's default deferred mode;
// SetMaxOpenConns(1) already serializes every writer against this
// process, so no explicit BEGIN IMMEDIATE is needed.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingester/sqlite: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	tStore := &txStore{execer: execer{q: tx}, tx: tx, logger: s.logger}
	if err := fn(ctx, tStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ingester/sqlite: commit tx: %w", err)
	}
	return nil
}

// txStore runs every Store method against an open transaction instead of
// the database handle, so the Scheduler can write a RunStep transition
// and its LifecycleHistory row atomically.
type txStore struct {
	execer
	tx     *sql.Tx
	logger *slog.Logger
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) Migrate(_ context.Context) error { return nil }
func (t *txStore) Ping(_ context.Context) error     { return nil }
func (t *txStore) Close() error                     { return nil }
