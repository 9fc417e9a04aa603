package migrate

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 3)

	for _, f := range files {
		data, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		body := string(data)
		assert.Contains(t, body, "-- +goose Up", f)
		assert.Contains(t, body, "-- +goose Down", f)
	}

	users, err := fs.ReadFile(migrations, "migrations/00001_create_users.sql")
	require.NoError(t, err)
	for _, constraint := range []string{"users_email_key", "users_eid_key"} {
		assert.True(t, strings.Contains(string(users), constraint), "missing %s", constraint)
	}
	roles, err := fs.ReadFile(migrations, "migrations/00002_create_user_roles.sql")
	require.NoError(t, err)
	assert.Contains(t, string(roles), "user_roles_scope_key")
}

func TestUpUsesEmbeddedDir(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	var gotDir string
	gooseUpContext = func(ctx context.Context, _ *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, NewManager(db).Up(context.Background()))
	assert.Equal(t, "migrations", gotDir)
}

func TestUpWrapsError(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	boom := errors.New("boom")
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom }

	err := NewManager(db).Up(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "migrate up")
}

func TestDownAndVersion(t *testing.T) {
	db := newDB(t)

	origDown, origVersion := gooseDownContext, gooseVersionContext
	defer func() { gooseDownContext, gooseVersionContext = origDown, origVersion }()
	downCalls := 0
	gooseDownContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		downCalls++
		return nil
	}
	gooseVersionContext = func(context.Context, *sql.DB) (int64, error) { return 3, nil }

	m := NewManager(db, WithMigrationsTable("auth_schema_version"))
	require.NoError(t, m.Down(context.Background()))
	assert.Equal(t, 1, downCalls)

	v, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	assert.Equal(t, "auth_schema_version", m.table)
}

func TestNilDB(t *testing.T) {
	err := NewManager(nil).Up(context.Background())
	require.Error(t, err)
}
