// Package postgres implements library.Store on PostgreSQL through a pgx
// connection pool. Queries are built with goqu.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"library-circulation/library"
)

const (
	dialectPostgres = "postgres"

	defaultMaxConnections    = int32(8)
	defaultMinConnections    = int32(1)
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = time.Minute * 5
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = time.Second * 5

	// logLockKey serializes log appends so ids and timestamps grow together.
	logLockKey = 7_300_417
)

var dialect = goqu.Dialect(dialectPostgres)

// Config holds the connection settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// PoolConfig turns c into a pgxpool.Config.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	dbConfig, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	dbConfig.MaxConns = defaultMaxConnections
	if c.MaxConns > 0 {
		dbConfig.MaxConns = c.MaxConns
	}
	dbConfig.MinConns = defaultMinConnections
	dbConfig.MaxConnLifetime = defaultMaxConnLifetime
	dbConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	dbConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	return dbConfig, nil
}

// Store is a library.Store backed by PostgreSQL. Write transactions lock the
// rows they read with SELECT ... FOR UPDATE; reads run in read-only
// repeatable-read transactions.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ library.Store = (*Store)(nil)

// Open connects to the database and applies schema migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// View runs fn in a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(tx library.Tx) error) error {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapErr(fmt.Errorf("begin read: %w", err))
	}
	defer t.Rollback(ctx) //nolint:errcheck // no-op after commit

	return fn(&tx{tx: t, now: s.now})
}

// Update runs fn in a read-committed write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx library.Tx) error) error {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(fmt.Errorf("begin: %w", err))
	}
	defer t.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&tx{tx: t, now: s.now, forUpdate: true}); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var current int
	_ = pool.QueryRow(ctx, `SELECT value::int FROM meta WHERE key='schema_version'`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	t, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback(ctx) //nolint:errcheck // no-op after commit

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            book_key TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            genre TEXT NOT NULL DEFAULT '',
            total_quantity INTEGER NOT NULL CONSTRAINT books_total_quantity_check CHECK (total_quantity >= 1),
            available INTEGER NOT NULL CONSTRAINT books_available_check CHECK (available >= 0 AND available <= total_quantity),
            cover_url TEXT NOT NULL DEFAULT '',
            retired BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE TABLE IF NOT EXISTS members (
            member_key TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            retired BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE TABLE IF NOT EXISTS loans (
            member_key TEXT NOT NULL REFERENCES members(member_key),
            book_key TEXT NOT NULL REFERENCES books(book_key),
            PRIMARY KEY (member_key, book_key)
        )`,
		`CREATE TABLE IF NOT EXISTS accounts (
            username TEXT PRIMARY KEY,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('admin','member')),
            member_key TEXT UNIQUE REFERENCES members(member_key)
        )`,
		`CREATE TABLE IF NOT EXISTS transactions (
            log_id BIGSERIAL PRIMARY KEY,
            member_key TEXT NOT NULL REFERENCES members(member_key),
            book_key TEXT NOT NULL REFERENCES books(book_key),
            kind TEXT NOT NULL CHECK (kind IN ('checkout','return')),
            occurred_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions(member_key)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book ON transactions(book_key)`,
	}
	for _, stmt := range stmts {
		if _, err := t.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := t.Exec(ctx, `INSERT INTO meta(key,value) VALUES('schema_version',$1)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return t.Commit(ctx)
}

// SQLSTATE codes mapped onto the library error taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// CHECK constraints on book copy counts, named in the schema.
const (
	checkBookTotal     = "books_total_quantity_check"
	checkBookAvailable = "books_available_check"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%v: %w", err, library.ErrStoreConflict)
	case codeUniqueViolation:
		return fmt.Errorf("%v: %w", err, library.ErrDuplicateKey)
	case codeForeignKeyViolation:
		return fmt.Errorf("%v: %w", err, library.ErrNotFound)
	case codeCheckViolation:
		switch pgErr.ConstraintName {
		case checkBookTotal, checkBookAvailable:
			return fmt.Errorf("%v: %w", err, library.ErrInvalidQuantity)
		}
		return fmt.Errorf("%v: %w", err, library.ErrInvalidInput)
	}
	return err
}
