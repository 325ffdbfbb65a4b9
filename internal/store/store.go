// Package store persists members and custom fields in SQLite (embedded,
// default) or PostgreSQL through database/sql.
//
// Repositories share one *sql.DB. Multi-statement operations run inside a
// transaction via withTx; the value store accepts any DBTX so it can take
// part in either.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlitePragmas enables foreign keys and makes concurrent writers wait for
// the lock instead of failing immediately.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Options configures Open.
type Options struct {
	Driver string
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string
	// URL is the PostgreSQL connection string.
	URL string
	// MaxOpenConns of 0 selects the dialect default.
	MaxOpenConns int
}

// Store owns the connection pool and hands out repositories bound to it.
type Store struct {
	db      *sql.DB
	dialect Dialect

	values  *ValueStore
	fields  *FieldRegistry
	members *MemberRepository
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSource(dialect, opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		// SQLite allows one writer; a single connection serializes
		// transactions instead of failing them with SQLITE_BUSY.
		maxOpen = 1
		if dialect == Postgres {
			maxOpen = 10
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	if dialect == Postgres {
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", dialect, err)
	}

	slog.Info("database connected", "driver", string(dialect), "max_open_conns", maxOpen)
	return New(db, dialect), nil
}

// New wraps an existing connection pool. Open is the usual entry point;
// New exists for tests that supply their own *sql.DB.
func New(db *sql.DB, dialect Dialect) *Store {
	s := &Store{db: db, dialect: dialect}
	s.values = &ValueStore{dialect: dialect}
	s.fields = &FieldRegistry{db: db, dialect: dialect, values: s.values}
	s.members = &MemberRepository{db: db, dialect: dialect, values: s.values, fields: s.fields}
	return s
}

func dataSource(dialect Dialect, opts Options) (string, error) {
	if dialect == Postgres {
		if opts.URL == "" {
			return "", errors.New("postgres driver requires a database URL")
		}
		return opts.URL, nil
	}

	path := opts.Path
	if path == "" {
		return "", errors.New("sqlite driver requires a database path")
	}
	if path == ":memory:" {
		return "file::memory:?" + sqlitePragmas, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}
	return "file:" + path + "?" + sqlitePragmas, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL engine in use.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Members() *MemberRepository { return s.members }
func (s *Store) Fields() *FieldRegistry     { return s.fields }
func (s *Store) Values() *ValueStore        { return s.values }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
