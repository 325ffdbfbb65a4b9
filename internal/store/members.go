package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/logging"
)

// memberColumns is the fixed attribute table of the members relation, in
// select and export order.
var memberColumns = []string{
	"id",
	"date_member_joined_group",
	"first_name",
	"surname",
	"birthday",
	"phone_number",
	"email",
	"address",
	"latitude",
	"longitude",
}

var selectMembers = `SELECT ` + strings.Join(memberColumns, ", ") + ` FROM members`

// MemberRepository stores members. It implements core.MemberRepository.
type MemberRepository struct {
	db      *sql.DB
	dialect Dialect
	values  *ValueStore
	fields  *FieldRegistry
}

var _ core.MemberRepository = (*MemberRepository)(nil)

func (r *MemberRepository) conn() conn {
	return conn{db: r.db, dialect: r.dialect}
}

// Insert writes a new member. A duplicate id yields core.ErrConstraint.
func (r *MemberRepository) Insert(ctx context.Context, m core.Member) error {
	_, err := r.conn().exec(ctx,
		`INSERT INTO members (`+strings.Join(memberColumns, ", ")+`) VALUES (`+placeholders(len(memberColumns))+`)`,
		m.ID,
		m.DateMemberJoinedGroup,
		m.FirstName,
		m.Surname,
		m.Birthday,
		m.PhoneNumber,
		m.Email,
		m.Address,
		nullFloat(m.Latitude),
		nullFloat(m.Longitude),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", classify(err))
	}
	return nil
}

// Get returns one member with its custom field projection.
func (r *MemberRepository) Get(ctx context.Context, id string) (core.Member, error) {
	return r.get(ctx, r.conn(), id)
}

func (r *MemberRepository) get(ctx context.Context, c conn, id string) (core.Member, error) {
	m, err := scanMember(c.queryRow(ctx, selectMembers+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, fmt.Errorf("member %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("get member: %w", err)
	}

	fields, err := r.values.ProjectForMember(ctx, c.db, id)
	if err != nil {
		return core.Member{}, err
	}
	if len(fields) > 0 {
		m.CustomFields = fields
	}
	return m, nil
}

// List returns every member ordered by join date, enriched with one bulk
// value query.
func (r *MemberRepository) List(ctx context.Context) ([]core.Member, error) {
	rows, err := r.conn().query(ctx, selectMembers+` ORDER BY date_member_joined_group, id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]core.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	// Release the connection before the projection query; the pool may
	// hold only one.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	projection, err := r.values.ProjectAll(ctx, r.db)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if fields := projection[members[i].ID]; len(fields) > 0 {
			members[i].CustomFields = fields
		}
	}
	return members, nil
}

// assignment is one column update derived from a patch.
type assignment struct {
	column string
	value  any
}

// patchAssignments maps the set attributes of a patch onto columns. Column
// names come from this table only.
func patchAssignments(p core.MemberPatch) []assignment {
	var out []assignment
	add := func(set bool, column string, value func() any) {
		if set {
			out = append(out, assignment{column: column, value: value()})
		}
	}
	add(p.DateMemberJoinedGroup != nil, "date_member_joined_group", func() any { return *p.DateMemberJoinedGroup })
	add(p.FirstName != nil, "first_name", func() any { return *p.FirstName })
	add(p.Surname != nil, "surname", func() any { return *p.Surname })
	add(p.Birthday != nil, "birthday", func() any { return *p.Birthday })
	add(p.PhoneNumber != nil, "phone_number", func() any { return *p.PhoneNumber })
	add(p.Email != nil, "email", func() any { return *p.Email })
	add(p.Address != nil, "address", func() any { return *p.Address })
	add(p.Latitude != nil, "latitude", func() any { return *p.Latitude })
	add(p.Longitude != nil, "longitude", func() any { return *p.Longitude })
	return out
}

// Update applies a partial update in one transaction and returns the
// re-read member. Custom field names without a definition are dropped.
func (r *MemberRepository) Update(ctx context.Context, id string, patch core.MemberPatch) (core.Member, error) {
	sets := patchAssignments(patch)
	if len(sets) == 0 && len(patch.CustomFields) == 0 {
		return core.Member{}, core.ErrEmptyPatch
	}

	var updated core.Member
	err := withTx(ctx, r.db, r.dialect, func(ctx context.Context, tx conn) error {
		var exists int
		err := tx.queryRow(ctx, `SELECT 1 FROM members WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("member %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check member: %w", err)
		}

		if len(sets) > 0 {
			clauses := make([]string, len(sets))
			args := make([]any, 0, len(sets)+1)
			for i, a := range sets {
				clauses[i] = a.column + " = ?"
				args = append(args, a.value)
			}
			args = append(args, id)
			if _, err := tx.exec(ctx, `UPDATE members SET `+joinSets(clauses)+` WHERE id = ?`, args...); err != nil {
				return fmt.Errorf("update member: %w", classify(err))
			}
		}

		if len(patch.CustomFields) > 0 {
			if err := r.upsertCustomFields(ctx, tx, id, patch.CustomFields); err != nil {
				return err
			}
		}

		updated, err = r.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return core.Member{}, err
	}
	return updated, nil
}

func (r *MemberRepository) upsertCustomFields(ctx context.Context, tx conn, memberID string, values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	ids, err := r.fields.ByName(ctx, tx.db, names)
	if err != nil {
		return err
	}

	var dropped []string
	for _, name := range names {
		fieldID, ok := ids[name]
		if !ok {
			dropped = append(dropped, name)
			continue
		}
		if err := r.values.Upsert(ctx, tx.db, memberID, fieldID, values[name]); err != nil {
			return err
		}
	}
	if len(dropped) > 0 {
		logging.FromContext(ctx).Warn("ignoring unknown custom fields",
			"member_id", memberID,
			"fields", strings.Join(dropped, ","),
		)
	}
	return nil
}

// Delete removes a member and its custom field values.
func (r *MemberRepository) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.db, r.dialect, func(ctx context.Context, tx conn) error {
		if err := r.values.DeleteForMember(ctx, tx.db, id); err != nil {
			return err
		}
		res, err := tx.exec(ctx, `DELETE FROM members WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete member: %w", classify(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("member %s: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// ExportAll returns the flat member table without custom fields.
func (r *MemberRepository) ExportAll(ctx context.Context) (core.Table, error) {
	rows, err := r.conn().query(ctx, selectMembers+` ORDER BY date_member_joined_group, id`)
	if err != nil {
		return core.Table{}, fmt.Errorf("export members: %w", err)
	}
	defer rows.Close()

	t := core.Table{Columns: append([]string(nil), memberColumns...)}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return core.Table{}, fmt.Errorf("scan member: %w", err)
		}
		t.Rows = append(t.Rows, memberRow(m))
	}
	if err := rows.Err(); err != nil {
		return core.Table{}, fmt.Errorf("export members: %w", err)
	}
	return t, nil
}

func memberRow(m core.Member) []*string {
	text := func(s string) *string { return &s }
	date := func(d core.Date) *string {
		if d.IsZero() {
			return nil
		}
		return text(d.String())
	}
	float := func(f *float64) *string {
		if f == nil {
			return nil
		}
		return text(strconv.FormatFloat(*f, 'f', -1, 64))
	}
	return []*string{
		text(m.ID),
		date(m.DateMemberJoinedGroup),
		text(m.FirstName),
		text(m.Surname),
		date(m.Birthday),
		text(m.PhoneNumber),
		text(m.Email),
		text(m.Address),
		float(m.Latitude),
		float(m.Longitude),
	}
}

func scanMember(row rowScanner) (core.Member, error) {
	var (
		m                                     core.Member
		first, surname, phone, email, address sql.NullString
		lat, lon                              sql.NullFloat64
	)
	err := row.Scan(
		&m.ID,
		&m.DateMemberJoinedGroup,
		&first,
		&surname,
		&m.Birthday,
		&phone,
		&email,
		&address,
		&lat,
		&lon,
	)
	if err != nil {
		return core.Member{}, err
	}
	m.FirstName = first.String
	m.Surname = surname.String
	m.PhoneNumber = phone.String
	m.Email = email.String
	m.Address = address.String
	if lat.Valid {
		m.Latitude = &lat.Float64
	}
	if lon.Valid {
		m.Longitude = &lon.Float64
	}
	return m, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func joinSets(sets []string) string {
	return strings.Join(sets, ", ")
}
