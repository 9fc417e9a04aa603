package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	migrationsDir          = "migrations"
	defaultMigrationsTable = "goose_db_version"
)

// goose entry points, swapped out in tests.
var (
	gooseUpContext      = goose.UpContext
	gooseDownContext    = goose.DownContext
	gooseStatusContext  = goose.StatusContext
	gooseVersionContext = goose.GetDBVersionContext
)

// Manager applies the embedded schema migrations.
type Manager struct {
	db    *sql.DB
	table string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, table: defaultMigrationsTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) prepare() error {
	if m.db == nil {
		return errors.New("database connection unavailable")
	}
	goose.SetBaseFS(migrations)
	goose.SetTableName(m.table)
	return goose.SetDialect("pgx")
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}
	if err := gooseDownContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status logs applied and pending migrations through goose's logger.
func (m *Manager) Status(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}
	return gooseStatusContext(ctx, m.db, migrationsDir)
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	if err := m.prepare(); err != nil {
		return 0, err
	}
	return gooseVersionContext(ctx, m.db)
}
