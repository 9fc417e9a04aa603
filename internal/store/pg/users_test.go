package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitportal.org/internal/auth"
)

var userCols = []string{"id", "email", "password_hash", "first_name", "last_name", "eid", "major", "year", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func TestFindByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`from users where email = $1`)).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "A", "B", "ab12345", "Physics", int64(2), now, now))

	u, err := s.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	require.NotNil(t, u.EID)
	assert.Equal(t, "ab12345", *u.EID)
	require.NotNil(t, u.Major)
	assert.Equal(t, auth.Major("Physics"), *u.Major)
	require.NotNil(t, u.Year)
	assert.Equal(t, auth.Year(2), *u.Year)
}

func TestFindByEIDNullableColumns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`from users where eid = $1`)).
		WithArgs("zz1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u2", "b@x.com", "hash", "C", "D", "zz1", nil, nil, now, now))

	u, err := s.FindByEID(context.Background(), "zz1")
	require.NoError(t, err)
	assert.Nil(t, u.Major)
	assert.Nil(t, u.Year)
}

func TestFindByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`from users where email = $1`)).
		WithArgs("missing@x.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := s.FindByEmail(context.Background(), "missing@x.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestFindByEmailStorageFault(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`from users where email = $1`)).
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
}

func TestCreateUserInTxWithDefaultRole(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	eid := "ab12345"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`insert into users`)).
		WithArgs(sqlmock.AnyArg(), "a@x.com", "hash", "A", "B", "ab12345", nil, nil).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "A", "B", "ab12345", nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`insert into user_roles`)).
		WithArgs(sqlmock.AnyArg(), "u1", "applicant", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "team", "system", "created_at"}).
			AddRow("r1", "u1", "applicant", nil, nil, now))
	mock.ExpectCommit()

	var created auth.User
	err := s.InTx(context.Background(), func(tx auth.Store) error {
		var err error
		created, err = tx.CreateUser(context.Background(), auth.NewUser{
			Email: "a@x.com", PasswordHash: "hash", FirstName: "A", LastName: "B", EID: &eid,
		})
		if err != nil {
			return err
		}
		a, err := tx.CreateRoleAssignment(context.Background(), auth.RoleAssignment{UserID: created.ID, Role: auth.RoleApplicant})
		if err == nil && a.Role != auth.RoleApplicant {
			return errors.New("unexpected role")
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.ID)
}

func TestInTxRollsBackOnRoleFailure(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`insert into users`)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "A", "B", nil, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`insert into user_roles`)).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx auth.Store) error {
		u, err := tx.CreateUser(context.Background(), auth.NewUser{Email: "a@x.com", PasswordHash: "hash", FirstName: "A", LastName: "B"})
		if err != nil {
			return err
		}
		_, err = tx.CreateRoleAssignment(context.Background(), auth.RoleAssignment{UserID: u.ID, Role: auth.RoleApplicant})
		return err
	})
	assert.ErrorIs(t, err, auth.ErrStorageUnavailable)
}

func TestCreateUserUniqueViolations(t *testing.T) {
	cases := map[string]error{
		"users_email_key": auth.ErrDuplicateEmail,
		"users_eid_key":   auth.ErrDuplicateEID,
		"other_key":       auth.ErrConflict,
	}
	for constraint, want := range cases {
		t.Run(constraint, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(regexp.QuoteMeta(`insert into users`)).
				WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraint})

			_, err := s.CreateUser(context.Background(), auth.NewUser{Email: "a@x.com", PasswordHash: "h", FirstName: "A", LastName: "B"})
			assert.ErrorIs(t, err, want)
			assert.ErrorIs(t, err, auth.ErrConflict)
		})
	}
}

func TestCreateRoleAssignmentErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`insert into user_roles`)).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintRoleScope})
	mock.ExpectQuery(regexp.QuoteMeta(`insert into user_roles`)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := s.CreateRoleAssignment(context.Background(), auth.RoleAssignment{UserID: "u1", Role: auth.RoleApplicant})
	assert.ErrorIs(t, err, auth.ErrDuplicateRoleAssignment)

	_, err = s.CreateRoleAssignment(context.Background(), auth.RoleAssignment{UserID: "ghost", Role: auth.RoleAdmin})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = s.CreateRoleAssignment(context.Background(), auth.RoleAssignment{UserID: "u1"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestGetPrimaryRole(t *testing.T) {
	s, mock := newMockStore(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`left join user_roles r on r.user_id = u.id`)

	mock.ExpectQuery(query).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "created_at"}).
			AddRow("applicant", t0).
			AddRow("team lead", t0.Add(time.Hour)).
			AddRow("system lead", t0.Add(2*time.Hour)))
	mock.ExpectQuery(query).WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"role", "created_at"}).AddRow(nil, nil))
	mock.ExpectQuery(query).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"role", "created_at"}))

	role, err := s.GetPrimaryRole(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeamLead, role)

	role, err = s.GetPrimaryRole(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleApplicant, role)

	_, err = s.GetPrimaryRole(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestGetProfileWithRoles(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`from users where id = $1`)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "hash", "A", "B", "ab12345", "Physics", int64(2), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`order by created_at, id`)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "team", "system", "created_at"}).
			AddRow("r1", "u1", "applicant", nil, nil, now).
			AddRow("r2", "u1", "system member", nil, "Battery", now.Add(time.Minute)))

	u, roles, err := s.GetProfileWithRoles(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
	require.Len(t, roles, 2)
	assert.Equal(t, auth.RoleSystemMember, roles[1].Role)
	require.NotNil(t, roles[1].System)
	assert.Equal(t, "Battery", *roles[1].System)
	assert.Nil(t, roles[1].Team)
}
