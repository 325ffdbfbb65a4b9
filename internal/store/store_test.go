package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an isolated SQLite database with the schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "members.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func testMember(first string) core.Member {
	return core.Member{
		ID:                    uuid.NewString(),
		DateMemberJoinedGroup: core.NewDate(2021, time.March, 4),
		FirstName:             first,
		Surname:               "Hansen",
		Birthday:              core.NewDate(1990, time.July, 12),
		PhoneNumber:           "+45 12 34 56 78",
		Email:                 first + "@example.dk",
		Address:               "Vej 1, 1000 Copenhagen, Denmark",
		Latitude:              ptr(55.6761),
		Longitude:             ptr(12.5683),
	}
}

func testField(name string) core.CustomFieldDefinition {
	return core.CustomFieldDefinition{
		ID:              uuid.NewString(),
		Name:            name,
		FieldType:       core.FieldString,
		ValidationRules: map[string]any{},
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"", SQLite, false},
		{"sqlite", SQLite, false},
		{"SQLite3", SQLite, false},
		{"postgres", Postgres, false},
		{"pgx", Postgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRebind(t *testing.T) {
	q := `UPDATE members SET first_name = ?, surname = ? WHERE id = ?`
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, `UPDATE members SET first_name = $1, surname = $2 WHERE id = $3`, Postgres.rebind(q))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestClassify_Postgres(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "members_pkey"}
	assert.ErrorIs(t, classify(dup), core.ErrConstraint)

	name := &pgconn.PgError{Code: "23505", ConstraintName: nameIndex}
	assert.ErrorIs(t, classify(name), core.ErrConflict)

	fk := &pgconn.PgError{Code: "23503"}
	assert.ErrorIs(t, classify(fk), core.ErrConstraint)

	other := &pgconn.PgError{Code: "42P01"}
	assert.Same(t, other, classify(other))

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

func TestIsMigrationRace(t *testing.T) {
	assert.True(t, isMigrationRace(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isMigrationRace(errors.New("table members already exists")))
	assert.True(t, isMigrationRace(errors.New("duplicate column name: latitude")))
	assert.False(t, isMigrationRace(errors.New("syntax error")))
}

func TestOpen_RequiresLocation(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Driver: "postgres"})
	assert.Error(t, err)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	missing, err := s.missingTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestEnsureSchema_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, Options{Driver: "sqlite", Path: path})
		require.NoError(t, err)
		require.NoError(t, s.EnsureSchema(ctx), "open #%d", i+1)
		require.NoError(t, s.Close())
	}
}

func TestEnsureSchema_Concurrent(t *testing.T) {
	const stores = 6
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round %d", round+1), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shared.db")

			opened := make([]*Store, stores)
			for i := range opened {
				s, err := Open(ctx, Options{Driver: "sqlite", Path: path})
				require.NoError(t, err)
				t.Cleanup(func() { s.Close() })
				opened[i] = s
			}

			start := make(chan struct{})
			errs := make([]error, stores)
			var wg sync.WaitGroup
			for i, s := range opened {
				wg.Add(1)
				go func(i int, s *Store) {
					defer wg.Done()
					<-start
					errs[i] = s.EnsureSchema(ctx)
				}(i, s)
			}
			close(start)
			wg.Wait()

			for i, err := range errs {
				assert.NoError(t, err, "store #%d", i+1)
			}
			for _, s := range opened {
				missing, err := s.missingTables(ctx)
				require.NoError(t, err)
				assert.Empty(t, missing)
			}

			m := testMember("Anna")
			require.NoError(t, opened[0].Members().Insert(ctx, m))
			got, err := opened[stores-1].Members().Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "Anna", got.FirstName)
		})
	}
}

func TestEnsureSchema_KeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.db")
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	got, err := s.Members().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", got.FirstName)
}

func TestMemberRepository_InsertGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")

	require.NoError(t, s.Members().Insert(ctx, m))

	got, err := s.Members().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "2021-03-04", got.DateMemberJoinedGroup.String())
	assert.Equal(t, "1990-07-12", got.Birthday.String())
	assert.Equal(t, m.Email, got.Email)
	require.True(t, got.HasCoordinates())
	assert.InDelta(t, 55.6761, *got.Latitude, 1e-9)
	assert.InDelta(t, 12.5683, *got.Longitude, 1e-9)
	assert.Nil(t, got.CustomFields)
}

func TestMemberRepository_InsertWithoutCoordinates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Bo")
	m.Latitude, m.Longitude = nil, nil

	require.NoError(t, s.Members().Insert(ctx, m))
	got, err := s.Members().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.HasCoordinates())
}

func TestMemberRepository_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")

	require.NoError(t, s.Members().Insert(ctx, m))
	err := s.Members().Insert(ctx, m)
	assert.ErrorIs(t, err, core.ErrConstraint)
}

func TestMemberRepository_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Members().Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemberRepository_ListEmpty(t *testing.T) {
	s := newTestStore(t)
	members, err := s.Members().List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestMemberRepository_ListProjectsCustomFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	anna, bo := testMember("Anna"), testMember("Bo")
	bo.DateMemberJoinedGroup = core.NewDate(2022, time.January, 1)
	require.NoError(t, s.Members().Insert(ctx, anna))
	require.NoError(t, s.Members().Insert(ctx, bo))

	field := testField("shoe_size")
	require.NoError(t, s.Fields().Create(ctx, field))

	_, err := s.Members().Update(ctx, anna.ID, core.MemberPatch{
		CustomFields: map[string]string{"shoe_size": "42"},
	})
	require.NoError(t, err)

	members, err := s.Members().List(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, anna.ID, members[0].ID)
	assert.Equal(t, map[string]string{"shoe_size": "42"}, members[0].CustomFields)
	// Backfilled empty value is not projected.
	assert.Nil(t, members[1].CustomFields)
}

func TestMemberRepository_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))

	got, err := s.Members().Update(ctx, m.ID, core.MemberPatch{
		FirstName: ptr("Annemette"),
		Birthday:  ptr(core.NewDate(1991, time.February, 2)),
		Latitude:  ptr(56.1629),
		Longitude: ptr(10.2039),
	})
	require.NoError(t, err)
	assert.Equal(t, "Annemette", got.FirstName)
	assert.Equal(t, "Hansen", got.Surname)
	assert.Equal(t, "1991-02-02", got.Birthday.String())
	assert.InDelta(t, 56.1629, *got.Latitude, 1e-9)
}

func TestMemberRepository_UpdateCustomFieldsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))
	require.NoError(t, s.Fields().Create(ctx, testField("team")))

	got, err := s.Members().Update(ctx, m.ID, core.MemberPatch{
		CustomFields: map[string]string{"team": "blue", "unknown": "dropped"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "blue"}, got.CustomFields)

	got, err = s.Members().Update(ctx, m.ID, core.MemberPatch{
		CustomFields: map[string]string{"team": "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "red"}, got.CustomFields)

	reread, err := s.Members().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, got, reread)
}

func TestMemberRepository_UpdateEmptyAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Members().Update(ctx, uuid.NewString(), core.MemberPatch{})
	assert.ErrorIs(t, err, core.ErrEmptyPatch)

	_, err = s.Members().Update(ctx, uuid.NewString(), core.MemberPatch{FirstName: ptr("x")})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemberRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))
	require.NoError(t, s.Fields().Create(ctx, testField("team")))

	require.NoError(t, s.Members().Delete(ctx, m.ID))

	_, err := s.Members().Get(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.Members().Delete(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM custom_field_values`).Scan(&n))
	assert.Zero(t, n)
}

func TestMemberRepository_ExportAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMember("Anna")
	noGeo := testMember("Bo")
	noGeo.DateMemberJoinedGroup = core.NewDate(2023, time.May, 5)
	noGeo.Latitude, noGeo.Longitude = nil, nil
	require.NoError(t, s.Members().Insert(ctx, m))
	require.NoError(t, s.Members().Insert(ctx, noGeo))

	table, err := s.Members().ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, memberColumns, table.Columns)
	require.Len(t, table.Rows, 2)

	first := table.Rows[0]
	require.Len(t, first, len(memberColumns))
	assert.Equal(t, m.ID, *first[0])
	assert.Equal(t, "2021-03-04", *first[1])
	assert.Equal(t, "55.6761", *first[8])

	second := table.Rows[1]
	assert.Nil(t, second[8])
	assert.Nil(t, second[9])
}

func TestFieldRegistry_CreateBackfills(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Members().Insert(ctx, testMember(fmt.Sprintf("m%d", i))))
	}
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))

	var n int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM custom_field_values WHERE field_id = ? AND value = ''`, field.ID,
	).Scan(&n))
	assert.Equal(t, 3, n)

	got, err := s.Fields().Get(ctx, field.ID)
	require.NoError(t, err)
	assert.Equal(t, "team", got.Name)
	assert.Equal(t, core.FieldString, got.FieldType)
	assert.Equal(t, map[string]any{}, got.ValidationRules)
	assert.True(t, field.CreatedAt.Equal(got.CreatedAt))
}

func TestFieldRegistry_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Fields().Create(ctx, testField("team")))
	err := s.Fields().Create(ctx, testField("team"))
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestFieldRegistry_ListOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testField("a_later_name")
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testField("b_name")
	newer.CreatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Fields().Create(ctx, newer))
	require.NoError(t, s.Fields().Create(ctx, older))

	defs, err := s.Fields().List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, older.ID, defs[0].ID)
	assert.Equal(t, newer.ID, defs[1].ID)
}

func TestFieldRegistry_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))
	require.NoError(t, s.Fields().Create(ctx, testField("other")))

	got, err := s.Fields().Update(ctx, field.ID, core.FieldPatch{
		Name:            ptr("squad"),
		ValidationRules: map[string]any{"max_length": float64(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, "squad", got.Name)
	assert.Equal(t, core.FieldString, got.FieldType)
	assert.Equal(t, map[string]any{"max_length": float64(10)}, got.ValidationRules)

	// Renaming to its own name is not a conflict.
	_, err = s.Fields().Update(ctx, field.ID, core.FieldPatch{Name: ptr("squad")})
	assert.NoError(t, err)

	_, err = s.Fields().Update(ctx, field.ID, core.FieldPatch{Name: ptr("other")})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = s.Fields().Update(ctx, uuid.NewString(), core.FieldPatch{Name: ptr("x")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Fields().Update(ctx, field.ID, core.FieldPatch{})
	assert.ErrorIs(t, err, core.ErrEmptyPatch)
}

func TestFieldRegistry_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))
	_, err := s.Members().Update(ctx, m.ID, core.MemberPatch{CustomFields: map[string]string{"team": "blue"}})
	require.NoError(t, err)

	require.NoError(t, s.Fields().Delete(ctx, field.ID))

	_, err = s.Fields().Get(ctx, field.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Fields().Delete(ctx, field.ID), core.ErrNotFound)

	got, err := s.Members().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CustomFields)
}

func TestFieldRegistry_ByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))

	ids, err := s.Fields().ByName(ctx, s.DB(), []string{"team", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": field.ID}, ids)

	ids, err = s.Fields().ByName(ctx, s.DB(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestValueStore_ProjectAndBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := testMember("Anna")
	require.NoError(t, s.Members().Insert(ctx, m))
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))

	values := s.Values()
	got, err := values.ProjectForMember(ctx, s.DB(), m.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	// Existing rows are left alone.
	n, err := values.Backfill(ctx, s.DB(), field.ID, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, values.Upsert(ctx, s.DB(), m.ID, field.ID, "blue"))
	got, err = values.ProjectForMember(ctx, s.DB(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "blue"}, got)

	all, err := values.ProjectAll(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{m.ID: {"team": "blue"}}, all)

	require.NoError(t, values.DeleteForMember(ctx, s.DB(), m.ID))
	all, err = values.ProjectAll(ctx, s.DB())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestValueStore_UpsertUnknownMember(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	field := testField("team")
	require.NoError(t, s.Fields().Create(ctx, field))

	err := s.Values().Upsert(ctx, s.DB(), uuid.NewString(), field.ID, "x")
	assert.ErrorIs(t, err, core.ErrConstraint)
}
