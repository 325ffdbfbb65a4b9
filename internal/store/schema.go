package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed migrations/*.sql
var migrations embed.FS

// requiredTables must exist once the schema is current.
var requiredTables = []string{"members", "custom_field_definitions", "custom_field_values"}

// EnsureSchema brings the database up to the latest migration. It is safe
// to call on every start and from several processes at once.
func (s *Store) EnsureSchema(ctx context.Context) error {
	missing, err := s.missingTables(ctx)
	if err != nil {
		return fmt.Errorf("inspect catalog: %w", err)
	}
	if len(missing) > 0 {
		slog.Info("creating missing tables", "tables", strings.Join(missing, ","))
	}

	provider, err := s.migrationProvider()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	for _, r := range results {
		if r.Error != nil {
			continue
		}
		slog.Info("migration applied",
			"version", r.Source.Version,
			"file", r.Source.Path,
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
	if err != nil {
		if s.dialect != SQLite || !isMigrationRace(err) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		// Another connection got there first. Fine as long as it finished.
		pending, perr := provider.HasPending(ctx)
		if perr != nil {
			return fmt.Errorf("apply migrations: %w", errors.Join(err, perr))
		}
		if pending {
			return fmt.Errorf("apply migrations: %w", err)
		}
		slog.Debug("schema migrated concurrently by another connection", "error", err)
	}

	missing, err = s.missingTables(ctx)
	if err != nil {
		return fmt.Errorf("inspect catalog: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete after migration: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Store) migrationProvider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	var opts []goose.ProviderOption
	if s.dialect == Postgres {
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("create migration lock: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}

	p, err := goose.NewProvider(s.dialect.gooseDialect(), s.db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return p, nil
}

// missingTables lists required tables absent from the catalog.
func (s *Store) missingTables(ctx context.Context) ([]string, error) {
	args := make([]any, len(requiredTables))
	for i, t := range requiredTables {
		args[i] = t
	}

	c := conn{db: s.db, dialect: s.dialect}
	rows, err := c.query(ctx, s.dialect.tableCatalogQuery(len(requiredTables)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool, len(requiredTables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, t := range requiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// isMigrationRace reports errors SQLite raises when two connections apply
// the same migration concurrently.
func isMigrationRace(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate column name")
}
