// Package sqlite implements library.Store on a SQLite database file.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"library-circulation/library"
)

// Store provides transactional access to a SQLite database. Writers share a
// single connection that opens every transaction with BEGIN IMMEDIATE;
// readers use a separate query-only pool.
type Store struct {
	rw  *sqlx.DB
	ro  *sqlx.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used to stamp log entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

var _ library.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and applies schema
// migrations.
func Open(path string, opts ...Option) (*Store, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys; writers take the write lock up front.
	rw, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	rw.SetMaxOpenConns(1)

	if err := applyMigrations(rw); err != nil {
		rw.Close()
		return nil, err
	}

	ro, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_query_only=1", path))
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	s := &Store{rw: rw, ro: ro, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	return errors.Join(s.ro.Close(), s.rw.Close())
}

// View runs fn in a read transaction.
func (s *Store) View(ctx context.Context, fn func(tx library.Tx) error) error {
	t, err := s.ro.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("begin read: %w", err))
	}
	defer t.Rollback()
	return fn(&tx{tx: t, now: s.now})
}

// Update runs fn in a write transaction and commits if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx library.Tx) error) error {
	t, err := s.rw.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("begin: %w", err))
	}
	defer t.Rollback()

	if err := fn(&tx{tx: t, now: s.now}); err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL lets readers proceed while a writer holds the lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            book_key TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            genre TEXT NOT NULL DEFAULT '',
            total_quantity INTEGER NOT NULL CONSTRAINT books_total_quantity_check CHECK (total_quantity >= 1),
            available INTEGER NOT NULL CONSTRAINT books_available_check CHECK (available >= 0 AND available <= total_quantity),
            cover_url TEXT NOT NULL DEFAULT '',
            retired INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            member_key TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            retired INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            member_key TEXT NOT NULL REFERENCES members(member_key),
            book_key TEXT NOT NULL REFERENCES books(book_key),
            PRIMARY KEY (member_key, book_key)
        );`,
		`CREATE TABLE IF NOT EXISTS accounts (
            username TEXT PRIMARY KEY,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('admin','member')),
            member_key TEXT UNIQUE REFERENCES members(member_key)
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            log_id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_key TEXT NOT NULL REFERENCES members(member_key),
            book_key TEXT NOT NULL REFERENCES books(book_key),
            kind TEXT NOT NULL CHECK (kind IN ('checkout','return')),
            occurred_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions(member_key);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book ON transactions(book_key);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for i, stmt := range stmts {
		var args []any
		if i == len(stmts)-1 {
			args = append(args, schemaVersion)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// Named CHECK constraints guarding book copy counts.
var quantityChecks = []string{"books_total_quantity_check", "books_available_check"}

// mapErr translates SQLite result codes into the library error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%v: %w", err, library.ErrStoreConflict)
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%v: %w", err, library.ErrDuplicateKey)
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%v: %w", err, library.ErrNotFound)
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		// SQLite reports "CHECK constraint failed: <name>".
		for _, name := range quantityChecks {
			if strings.Contains(se.Error(), name) {
				return fmt.Errorf("%v: %w", err, library.ErrInvalidQuantity)
			}
		}
		return fmt.Errorf("%v: %w", err, library.ErrInvalidInput)
	}
	return err
}
