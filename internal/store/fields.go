package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
)

// timestampLayout sorts lexicographically in UTC.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const fieldColumns = `id, name, field_type, validation_rules, created_at`

// FieldRegistry stores custom field definitions. It implements
// core.FieldRegistry.
type FieldRegistry struct {
	db      *sql.DB
	dialect Dialect
	values  *ValueStore
}

var _ core.FieldRegistry = (*FieldRegistry)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// Create stores a definition and backfills an empty value for every
// existing member in the same transaction.
func (r *FieldRegistry) Create(ctx context.Context, def core.CustomFieldDefinition) error {
	rules, err := encodeRules(def.ValidationRules)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, r.dialect, func(ctx context.Context, tx conn) error {
		if err := r.checkNameFree(ctx, tx, def.Name, ""); err != nil {
			return err
		}

		_, err := tx.exec(ctx,
			`INSERT INTO custom_field_definitions (`+fieldColumns+`) VALUES (?, ?, ?, ?, ?)`,
			def.ID, def.Name, string(def.FieldType), rules, def.CreatedAt.UTC().Format(timestampLayout),
		)
		if err != nil {
			return fmt.Errorf("insert custom field: %w", classify(err))
		}

		n, err := r.values.Backfill(ctx, tx.db, def.ID, "")
		if err != nil {
			return err
		}
		slog.Debug("custom field backfilled", "field_id", def.ID, "members", n)
		return nil
	})
}

// Get returns one definition or core.ErrNotFound.
func (r *FieldRegistry) Get(ctx context.Context, id string) (core.CustomFieldDefinition, error) {
	return r.get(ctx, conn{db: r.db, dialect: r.dialect}, id)
}

func (r *FieldRegistry) get(ctx context.Context, c conn, id string) (core.CustomFieldDefinition, error) {
	row := c.queryRow(ctx, `SELECT `+fieldColumns+` FROM custom_field_definitions WHERE id = ?`, id)
	def, err := scanField(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CustomFieldDefinition{}, fmt.Errorf("custom field %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.CustomFieldDefinition{}, fmt.Errorf("get custom field: %w", err)
	}
	return def, nil
}

// List returns every definition, oldest first.
func (r *FieldRegistry) List(ctx context.Context) ([]core.CustomFieldDefinition, error) {
	c := conn{db: r.db, dialect: r.dialect}
	rows, err := c.query(ctx, `SELECT `+fieldColumns+` FROM custom_field_definitions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	defer rows.Close()

	defs := make([]core.CustomFieldDefinition, 0)
	for rows.Next() {
		def, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom field: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	return defs, nil
}

// Update renames a definition and/or replaces its validation rules.
func (r *FieldRegistry) Update(ctx context.Context, id string, patch core.FieldPatch) (core.CustomFieldDefinition, error) {
	if patch.IsEmpty() {
		return core.CustomFieldDefinition{}, core.ErrEmptyPatch
	}

	var updated core.CustomFieldDefinition
	err := withTx(ctx, r.db, r.dialect, func(ctx context.Context, tx conn) error {
		if _, err := r.get(ctx, tx, id); err != nil {
			return err
		}

		var sets []string
		var args []any
		if patch.Name != nil {
			if err := r.checkNameFree(ctx, tx, *patch.Name, id); err != nil {
				return err
			}
			sets = append(sets, "name = ?")
			args = append(args, *patch.Name)
		}
		if patch.ValidationRules != nil {
			rules, err := encodeRules(patch.ValidationRules)
			if err != nil {
				return err
			}
			sets = append(sets, "validation_rules = ?")
			args = append(args, rules)
		}
		args = append(args, id)

		if _, err := tx.exec(ctx, `UPDATE custom_field_definitions SET `+joinSets(sets)+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("update custom field: %w", classify(err))
		}

		var err error
		updated, err = r.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return core.CustomFieldDefinition{}, err
	}
	return updated, nil
}

// Delete removes a definition together with all of its values.
func (r *FieldRegistry) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.db, r.dialect, func(ctx context.Context, tx conn) error {
		if err := r.values.DeleteForField(ctx, tx.db, id); err != nil {
			return err
		}
		res, err := tx.exec(ctx, `DELETE FROM custom_field_definitions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete custom field: %w", classify(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("custom field %s: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// ByName resolves field names to ids. Unknown names are absent from the
// result.
func (r *FieldRegistry) ByName(ctx context.Context, db DBTX, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	c := conn{db: db, dialect: r.dialect}
	rows, err := c.query(ctx,
		`SELECT id, name FROM custom_field_definitions WHERE name IN (`+placeholders(len(names))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve custom field names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan custom field name: %w", err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

// checkNameFree returns core.ErrConflict when another definition (other
// than exceptID) already uses name.
func (r *FieldRegistry) checkNameFree(ctx context.Context, c conn, name, exceptID string) error {
	var id string
	err := c.queryRow(ctx, `SELECT id FROM custom_field_definitions WHERE name = ?`, name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check custom field name: %w", err)
	case id == exceptID:
		return nil
	default:
		return fmt.Errorf("custom field %q already exists: %w", name, core.ErrConflict)
	}
}

func scanField(row rowScanner) (core.CustomFieldDefinition, error) {
	var (
		def       core.CustomFieldDefinition
		fieldType string
		rules     sql.NullString
		createdAt string
	)
	if err := row.Scan(&def.ID, &def.Name, &fieldType, &rules, &createdAt); err != nil {
		return core.CustomFieldDefinition{}, err
	}
	def.FieldType = core.FieldType(fieldType)

	def.ValidationRules = map[string]any{}
	if rules.Valid && rules.String != "" {
		if err := json.Unmarshal([]byte(rules.String), &def.ValidationRules); err != nil {
			return core.CustomFieldDefinition{}, fmt.Errorf("decode validation rules of %s: %w", def.ID, err)
		}
	}

	ts, err := time.Parse(timestampLayout, createdAt)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return core.CustomFieldDefinition{}, fmt.Errorf("decode created_at of %s: %w", def.ID, err)
		}
	}
	def.CreatedAt = ts.UTC()
	return def, nil
}

func encodeRules(rules map[string]any) (string, error) {
	if rules == nil {
		return "{}", nil
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return "", core.NewValidationError(core.FieldProblem{
			Field:   "validation_rules",
			Message: "must be a JSON object",
		})
	}
	return string(b), nil
}
