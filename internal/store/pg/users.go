package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"recruitportal.org/internal/auth"
	"recruitportal.org/internal/ids"
)

const userColumns = `id, email, password_hash, first_name, last_name, eid, major, year, created_at, updated_at`

type userRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	FirstName    string         `db:"first_name"`
	LastName     string         `db:"last_name"`
	EID          sql.NullString `db:"eid"`
	Major        sql.NullString `db:"major"`
	Year         sql.NullInt32  `db:"year"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r userRow) toUser() auth.User {
	u := auth.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		EID:          stringPtr(r.EID),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Major.Valid {
		m := auth.Major(r.Major.String)
		u.Major = &m
	}
	if r.Year.Valid {
		y := auth.Year(r.Year.Int32)
		u.Year = &y
	}
	return u
}

type roleRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Role      string         `db:"role"`
	Team      sql.NullString `db:"team"`
	System    sql.NullString `db:"system"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r roleRow) toAssignment() (auth.RoleAssignment, error) {
	role, err := auth.ParseRole(r.Role)
	if err != nil {
		return auth.RoleAssignment{}, auth.StorageError("decode role", err)
	}
	return auth.RoleAssignment{
		ID:        r.ID,
		UserID:    r.UserID,
		Role:      role,
		Team:      stringPtr(r.Team),
		System:    stringPtr(r.System),
		CreatedAt: r.CreatedAt,
	}, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findUser(ctx, "find user by email", `select `+userColumns+` from users where email = $1`, email)
}

func (s *Store) FindByEID(ctx context.Context, eid string) (auth.User, error) {
	return s.findUser(ctx, "find user by eid", `select `+userColumns+` from users where eid = $1`, eid)
}

func (s *Store) findUser(ctx context.Context, op, query string, arg any) (auth.User, error) {
	if err := s.ready(); err != nil {
		return auth.User{}, err
	}
	var row userRow
	if err := sqlx.GetContext(ctx, s.q, &row, query, arg); err != nil {
		return auth.User{}, mapError(op, err)
	}
	return row.toUser(), nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.NewUser) (auth.User, error) {
	if err := s.ready(); err != nil {
		return auth.User{}, err
	}
	var major sql.NullString
	if u.Major != nil {
		major = sql.NullString{String: string(*u.Major), Valid: true}
	}
	var year sql.NullInt32
	if u.Year != nil {
		year = sql.NullInt32{Int32: int32(*u.Year), Valid: true}
	}

	var row userRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		insert into users (id, email, password_hash, first_name, last_name, eid, major, year)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+userColumns,
		ids.New(), u.Email, u.PasswordHash, u.FirstName, u.LastName, nullIfEmpty(u.EID), major, year)
	if err != nil {
		return auth.User{}, mapError("insert user", err)
	}
	return row.toUser(), nil
}

func (s *Store) CreateRoleAssignment(ctx context.Context, a auth.RoleAssignment) (auth.RoleAssignment, error) {
	if err := s.ready(); err != nil {
		return auth.RoleAssignment{}, err
	}
	if !a.Role.Valid() {
		return auth.RoleAssignment{}, fmt.Errorf("%w: role is invalid", auth.ErrInvalidInput)
	}
	var row roleRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		insert into user_roles (id, user_id, role, team, system)
		values ($1, $2, $3, $4, $5)
		returning id, user_id, role, team, system, created_at`,
		ids.New(), a.UserID, a.Role.String(), nullIfEmpty(a.Team), nullIfEmpty(a.System))
	if err != nil {
		return auth.RoleAssignment{}, mapError("insert role assignment", err)
	}
	return row.toAssignment()
}

// GetPrimaryRole left-joins so an unknown user (no rows) is distinguishable
// from a user without assignments (one row of nulls).
func (s *Store) GetPrimaryRole(ctx context.Context, userID string) (auth.Role, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	rows, err := s.q.QueryxContext(ctx, `
		select r.role, r.created_at
		from users u
		left join user_roles r on r.user_id = u.id
		where u.id = $1`, userID)
	if err != nil {
		return 0, mapError("select roles", err)
	}
	defer rows.Close()

	var (
		found       bool
		assignments []auth.RoleAssignment
	)
	for rows.Next() {
		found = true
		var (
			role    sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(&role, &created); err != nil {
			return 0, mapError("scan role", err)
		}
		if !role.Valid {
			continue
		}
		parsed, err := auth.ParseRole(role.String)
		if err != nil {
			return 0, auth.StorageError("decode role", err)
		}
		assignments = append(assignments, auth.RoleAssignment{Role: parsed, CreatedAt: created.Time})
	}
	if err := rows.Err(); err != nil {
		return 0, mapError("iterate roles", err)
	}
	if !found {
		return 0, auth.ErrNotFound
	}
	return auth.PrimaryRole(assignments), nil
}

func (s *Store) GetProfileWithRoles(ctx context.Context, userID string) (auth.User, []auth.RoleAssignment, error) {
	user, err := s.findUser(ctx, "find user by id", `select `+userColumns+` from users where id = $1`, userID)
	if err != nil {
		return auth.User{}, nil, err
	}
	var rows []roleRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `
		select id, user_id, role, team, system, created_at
		from user_roles
		where user_id = $1
		order by created_at, id`, userID); err != nil {
		return auth.User{}, nil, mapError("select role assignments", err)
	}
	roles := make([]auth.RoleAssignment, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAssignment()
		if err != nil {
			return auth.User{}, nil, err
		}
		roles = append(roles, a)
	}
	return user, roles, nil
}
