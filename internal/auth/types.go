package auth

import (
	"fmt"
	"time"
)

// Major is one of the fixed academic majors an applicant may declare.
type Major string

var majors = []Major{
	"Electrical Engineering",
	"Computer Engineering",
	"Mechanical Engineering",
	"Chemical Engineering",
	"Aerospace Engineering",
	"Computer Science",
	"Physics",
	"Materials Science",
	"Undeclared",
	"Other",
}

// Majors returns the accepted majors in display order.
func Majors() []Major {
	out := make([]Major, len(majors))
	copy(out, majors)
	return out
}

func (m Major) Valid() bool {
	for _, known := range majors {
		if m == known {
			return true
		}
	}
	return false
}

// Year is the academic year, 1 (Freshman) through 6 (Doctoral).
type Year int

const (
	MinYear Year = 1
	MaxYear Year = 6
)

var yearLabels = [...]string{"Freshman", "Sophomore", "Junior", "Senior", "Masters", "Doctoral"}

func (y Year) Valid() bool { return y >= MinYear && y <= MaxYear }

func (y Year) String() string {
	if !y.Valid() {
		return fmt.Sprintf("year(%d)", int(y))
	}
	return yearLabels[y-1]
}

// User is a registered account. Optional profile fields are nil when absent.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	EID          *string
	Major        *Major
	Year         *Year
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser carries the fields needed to insert a user row.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	EID          *string
	Major        *Major
	Year         *Year
}

// RoleAssignment grants a role to a user, optionally scoped to a team or system.
type RoleAssignment struct {
	ID        string
	UserID    string
	Role      Role
	Team      *string
	System    *string
	CreatedAt time.Time
}

// Profile is the authenticated user's view of themselves.
type Profile struct {
	User  User
	Roles []RoleAssignment
}

// Identity is what the authorization middleware attaches to a request.
type Identity struct {
	UserID string
	Role   Role
}
