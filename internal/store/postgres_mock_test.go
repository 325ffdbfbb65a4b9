package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return New(db, Postgres), mock, db
}

const memberID = "0b7e6f0e-2b8e-4d8c-9a57-8d1f2f6c1a10"

func TestPostgres_InsertDuplicate(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT INTO members \(id, .*longitude\) VALUES \(\$1, \$2, .*\$10\)$`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "members_pkey"})

	err := s.Members().Insert(context.Background(), testMember("Anna"))
	assert.ErrorIs(t, err, core.ErrConstraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteMissingRollsBack(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM custom_field_values WHERE member_id = \$1`).
		WithArgs(memberID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM members WHERE id = \$1`).
		WithArgs(memberID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Members().Delete(context.Background(), memberID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteCommits(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM custom_field_values WHERE member_id = \$1`).
		WithArgs(memberID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM members WHERE id = \$1`).
		WithArgs(memberID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Members().Delete(context.Background(), memberID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateMissingMember(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM members WHERE id = \$1`).
		WithArgs(memberID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Members().Update(context.Background(), memberID, core.MemberPatch{FirstName: ptr("x")})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateBuildsParameterizedStatement(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM members WHERE id = \$1`).
		WithArgs(memberID).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`UPDATE members SET first_name = \$1, email = \$2 WHERE id = \$3`).
		WithArgs("Bo", "bo@example.dk", memberID).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.Members().Update(context.Background(), memberID, core.MemberPatch{
		FirstName: ptr("Bo"),
		Email:     ptr("bo@example.dk"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateFieldNameTaken(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM custom_field_definitions WHERE name = \$1`).
		WithArgs("team").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("other-id"))
	mock.ExpectRollback()

	err := s.Fields().Create(context.Background(), testField("team"))
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateFieldUniqueIndexRace(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM custom_field_definitions WHERE name = \$1`).
		WithArgs("team").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO custom_field_definitions`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: nameIndex})
	mock.ExpectRollback()

	err := s.Fields().Create(context.Background(), testField("team"))
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BackfillReportsRowsAffectedFailure(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT INTO custom_field_values .* WHERE x\.member_id = m\.id AND x\.field_id = \$3`).
		WithArgs("field-1", "", "field-1").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver cannot count rows")))

	n, err := s.Values().Backfill(context.Background(), db, "field-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver cannot count rows")
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BackfillCountsInsertedRows(t *testing.T) {
	s, mock, db := newPostgresMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO custom_field_values`).
		WithArgs("field-1", "", "field-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Values().Backfill(context.Background(), db, "field-1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
