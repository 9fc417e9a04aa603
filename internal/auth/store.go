package auth

import "context"

// Store persists users and their role assignments. Implementations enforce
// email, eid and role-scope uniqueness themselves and report violations as
// ErrDuplicateEmail, ErrDuplicateEID or ErrDuplicateRoleAssignment. Backend
// failures wrap ErrStorageUnavailable.
type Store interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByEID(ctx context.Context, eid string) (User, error)
	CreateUser(ctx context.Context, u NewUser) (User, error)
	CreateRoleAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error)
	GetPrimaryRole(ctx context.Context, userID string) (Role, error)
	GetProfileWithRoles(ctx context.Context, userID string) (User, []RoleAssignment, error)

	// InTx runs fn against a store whose writes commit together or not at all.
	InTx(ctx context.Context, fn func(Store) error) error
}
