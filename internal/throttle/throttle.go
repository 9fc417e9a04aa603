// Package throttle limits login attempts per client key within a fixed window.
package throttle

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 15 * time.Minute
)

// Policy is the attempt budget for one client key.
type Policy struct {
	Limit  int
	Window time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Limit: DefaultLimit, Window: DefaultWindow}
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// Decision is the outcome of a throttle lookup. Window identifies the window
// the attempt was counted in and is what Refund expects back.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Window     time.Time
}

// Throttle tracks attempts per client key. RecordAttempt is a single atomic
// check-and-increment, so concurrent callers can never both take the last slot.
type Throttle interface {
	// Check reports the current state without consuming an attempt.
	Check(ctx context.Context, key string) (Decision, error)
	// RecordAttempt consumes one attempt, or denies it if the budget is spent.
	RecordAttempt(ctx context.Context, key string) (Decision, error)
	// Refund returns one attempt consumed by a request that succeeded.
	// Earlier failures in the window stay counted. It does nothing once the
	// window the attempt was recorded in has been replaced.
	Refund(ctx context.Context, key string, window time.Time) error
}
