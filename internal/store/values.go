package store

import (
	"context"
	"fmt"
)

// ValueStore reads and writes custom field values. Every method takes the
// DBTX to run on so callers can compose it inside their own transaction.
type ValueStore struct {
	dialect Dialect
}

func (v *ValueStore) on(db DBTX) conn {
	return conn{db: db, dialect: v.dialect}
}

// Upsert sets the value of one field for one member.
func (v *ValueStore) Upsert(ctx context.Context, db DBTX, memberID, fieldID, value string) error {
	_, err := v.on(db).exec(ctx, `
		INSERT INTO custom_field_values (member_id, field_id, value)
		VALUES (?, ?, ?)
		ON CONFLICT (member_id, field_id) DO UPDATE SET value = excluded.value`,
		memberID, fieldID, value,
	)
	if err != nil {
		return fmt.Errorf("upsert custom field value: %w", classify(err))
	}
	return nil
}

// ProjectForMember returns the member's non-empty values keyed by field
// name. The map is empty, not nil, when there are none.
func (v *ValueStore) ProjectForMember(ctx context.Context, db DBTX, memberID string) (map[string]string, error) {
	rows, err := v.on(db).query(ctx, `
		SELECT d.name, v.value
		FROM custom_field_values v
		JOIN custom_field_definitions d ON d.id = v.field_id
		WHERE v.member_id = ? AND v.value <> ''`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("project custom fields: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan custom field value: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// ProjectAll returns the non-empty values of every member, keyed by member
// id and then field name. Members without values are absent.
func (v *ValueStore) ProjectAll(ctx context.Context, db DBTX) (map[string]map[string]string, error) {
	rows, err := v.on(db).query(ctx, `
		SELECT v.member_id, d.name, v.value
		FROM custom_field_values v
		JOIN custom_field_definitions d ON d.id = v.field_id
		WHERE v.value <> ''`)
	if err != nil {
		return nil, fmt.Errorf("project custom fields: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var memberID, name, value string
		if err := rows.Scan(&memberID, &name, &value); err != nil {
			return nil, fmt.Errorf("scan custom field value: %w", err)
		}
		fields, ok := out[memberID]
		if !ok {
			fields = make(map[string]string)
			out[memberID] = fields
		}
		fields[name] = value
	}
	return out, rows.Err()
}

// DeleteForMember removes every value held by a member.
func (v *ValueStore) DeleteForMember(ctx context.Context, db DBTX, memberID string) error {
	if _, err := v.on(db).exec(ctx, `DELETE FROM custom_field_values WHERE member_id = ?`, memberID); err != nil {
		return fmt.Errorf("delete member values: %w", err)
	}
	return nil
}

// DeleteForField removes every value of a field.
func (v *ValueStore) DeleteForField(ctx context.Context, db DBTX, fieldID string) error {
	if _, err := v.on(db).exec(ctx, `DELETE FROM custom_field_values WHERE field_id = ?`, fieldID); err != nil {
		return fmt.Errorf("delete field values: %w", err)
	}
	return nil
}

// Backfill gives every member lacking a row for fieldID the given value and
// returns how many rows were inserted.
func (v *ValueStore) Backfill(ctx context.Context, db DBTX, fieldID, value string) (int64, error) {
	res, err := v.on(db).exec(ctx, `
		INSERT INTO custom_field_values (member_id, field_id, value)
		SELECT m.id, CAST(? AS TEXT), CAST(? AS TEXT)
		FROM members m
		WHERE NOT EXISTS (
			SELECT 1 FROM custom_field_values x
			WHERE x.member_id = m.id AND x.field_id = ?
		)`,
		fieldID, value, fieldID,
	)
	if err != nil {
		return 0, fmt.Errorf("backfill custom field: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backfill custom field: rows affected: %w", err)
	}
	return n, nil
}
