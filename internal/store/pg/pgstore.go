package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"recruitportal.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	constraintUsersEmail = "users_email_key"
	constraintUsersEID   = "users_eid_key"
	constraintRoleScope  = "user_roles_scope_key"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig caps the pool at 20 connections and recycles idle ones
// after 30 seconds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}
}

// Store is the Postgres-backed auth.Store.
type Store struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

var _ auth.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db, q: db}, nil
}

// New wraps an existing handle, e.g. one from sqlmock.
func New(db *sql.DB) *Store {
	x := sqlx.NewDb(db, "pgx")
	return &Store{db: x, q: x}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db.DB }

// InTx runs fn inside one database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(auth.Store) error) error {
	if s.db == nil {
		return auth.StorageError("begin", errors.New("database connection unavailable"))
	}
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return auth.StorageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return auth.StorageError("commit", err)
	}
	return nil
}

func (s *Store) ready() error {
	if s.db == nil || s.q == nil {
		return auth.StorageError("query", errors.New("database connection unavailable"))
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError turns driver errors into auth sentinels. Constraint names come from
// the schema migrations.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintUsersEmail:
				return auth.ErrDuplicateEmail
			case constraintUsersEID:
				return auth.ErrDuplicateEID
			case constraintRoleScope:
				return auth.ErrDuplicateRoleAssignment
			default:
				return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
			}
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return auth.StorageError(op, err)
}

func nullIfEmpty(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
