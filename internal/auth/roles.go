package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the closed set of roles a user can hold, ordered by privilege.
type Role uint8

const (
	RoleApplicant Role = iota + 1
	RoleSystemMember
	RoleSystemSublead
	RoleSystemLead
	RoleTeamLead
	RoleTeamAdmin
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleApplicant:     "applicant",
	RoleSystemMember:  "system member",
	RoleSystemSublead: "system sublead",
	RoleSystemLead:    "system lead",
	RoleTeamLead:      "team lead",
	RoleTeamAdmin:     "team admin",
	RoleAdmin:         "admin",
}

// ParseRole accepts the wire name of a role, case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Roles lists every role from least to most privileged.
func Roles() []Role {
	return []Role{RoleApplicant, RoleSystemMember, RoleSystemSublead, RoleSystemLead, RoleTeamLead, RoleTeamAdmin, RoleAdmin}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Rank orders roles by privilege; higher is more privileged.
func (r Role) Rank() int { return int(r) }

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PrimaryRole picks the role carried in access tokens: admin wins outright,
// otherwise the highest rank, with ties going to the earliest assignment.
// Users without assignments are applicants.
func PrimaryRole(assignments []RoleAssignment) Role {
	if len(assignments) == 0 {
		return RoleApplicant
	}
	sorted := make([]RoleAssignment, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Role != sorted[j].Role {
			return sorted[i].Role.Rank() > sorted[j].Role.Rank()
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[0].Role
}
