package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL engine behind a Store. Queries are written once
// with '?' placeholders in SQL both engines accept; the dialect covers the
// remaining differences.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unknown database driver %q", name)
	}
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() goose.Dialect {
	if d == Postgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// rebind rewrites '?' placeholders into the dialect's bind syntax.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// tableCatalogQuery lists which of the given tables exist.
func (d Dialect) tableCatalogQuery(n int) string {
	in := placeholders(n)
	if d == Postgres {
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name IN (" + in + ")"
	}
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN (" + in + ")"
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nameIndex is the unique index over custom field names.
const nameIndex = "idx_custom_field_definitions_name"

// classify maps driver-level constraint failures onto the core taxonomy.
// Errors that are not constraint failures are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == nameIndex {
				return fmt.Errorf("%w: %w", core.ErrConflict, err)
			}
			return fmt.Errorf("%w: duplicate key: %w", core.ErrConstraint, err)
		case "23503":
			return fmt.Errorf("%w: foreign key: %w", core.ErrConstraint, err)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			if strings.Contains(liteErr.Error(), "custom_field_definitions.name") {
				return fmt.Errorf("%w: %w", core.ErrConflict, err)
			}
			return fmt.Errorf("%w: duplicate key: %w", core.ErrConstraint, err)
		case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: duplicate key: %w", core.ErrConstraint, err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: foreign key: %w", core.ErrConstraint, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", core.ErrConstraint, err)
		}
	}
	return err
}
