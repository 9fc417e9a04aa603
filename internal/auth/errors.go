package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrConflict           = errors.New("auth: conflict")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrRateLimited        = errors.New("auth: rate limited")
	ErrStorageUnavailable = errors.New("auth: storage unavailable")
)

var (
	ErrDuplicateEmail          = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrDuplicateEID            = fmt.Errorf("%w: eid already registered", ErrConflict)
	ErrDuplicateRoleAssignment = fmt.Errorf("%w: role already assigned", ErrConflict)

	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrTokenMalformed     = fmt.Errorf("%w: token malformed", ErrUnauthorized)
)

// ValidationError reports the first registration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// RateLimitedError is returned when the login throttle denies an attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, please try again in %d minutes", e.RetryMinutes())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryMinutes rounds RetryAfter up to whole minutes, never below one.
func (e *RateLimitedError) RetryMinutes() int {
	m := int(math.Ceil(e.RetryAfter.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

// RetrySeconds rounds RetryAfter up to whole seconds, never below one.
func (e *RateLimitedError) RetrySeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// StorageError wraps a backend failure so callers can match ErrStorageUnavailable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
