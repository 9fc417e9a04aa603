package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemory_FiveAttemptsThenDeny(t *testing.T) {
	clock := newClock()
	m := NewMemory(DefaultPolicy(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := m.RecordAttempt(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be allowed", i)
		assert.Equal(t, 5-i, d.Remaining)
	}

	clock.Advance(time.Minute)
	d, err := m.RecordAttempt(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 14*time.Minute, d.RetryAfter)

	other, err := m.RecordAttempt(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys must not share a budget")
}

func TestMemory_WindowRollover(t *testing.T) {
	clock := newClock()
	m := NewMemory(DefaultPolicy(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.RecordAttempt(ctx, "k")
		require.NoError(t, err)
	}
	d, err := m.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.Advance(15*time.Minute - time.Second)
	d, err = m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	clock.Advance(time.Second)
	d, err = m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestMemory_RefundKeepsEarlierFailures(t *testing.T) {
	m := NewMemory(DefaultPolicy(), WithClock(newClock().Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.RecordAttempt(ctx, "k")
		require.NoError(t, err)
	}
	// a successful attempt gives back only its own slot
	ok, err := m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, m.Refund(ctx, "k", ok.Window))

	d, err := m.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	require.NoError(t, m.Refund(ctx, "unknown", ok.Window))
}

func TestMemory_RefundIgnoresLaterWindow(t *testing.T) {
	clock := newClock()
	m := NewMemory(DefaultPolicy(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.RecordAttempt(ctx, "k")
		require.NoError(t, err)
	}
	clock.Advance(15*time.Minute - 100*time.Millisecond)
	success, err := m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	require.True(t, success.Allowed)

	// the refund for that success only arrives after the window has rolled
	// and a new failure has been counted
	clock.Advance(100 * time.Millisecond)
	failure, err := m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	require.True(t, failure.Allowed)
	require.False(t, failure.Window.Equal(success.Window))

	require.NoError(t, m.Refund(ctx, "k", success.Window))

	d, err := m.Check(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Remaining)

	require.NoError(t, m.Refund(ctx, "k", failure.Window))
	d, err = m.Check(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, d.Remaining)
}

func TestMemory_CheckDoesNotConsume(t *testing.T) {
	m := NewMemory(Policy{Limit: 1, Window: time.Minute})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := m.RecordAttempt(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemory_ConcurrentAttemptsNeverExceedLimit(t *testing.T) {
	m := NewMemory(DefaultPolicy())
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.RecordAttempt(ctx, "shared")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, allowed.Load())
}

func TestMemory_SweepDropsExpiredKeys(t *testing.T) {
	clock := newClock()
	m := NewMemory(DefaultPolicy(), WithClock(clock.Now))
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := m.RecordAttempt(ctx, k)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Len())

	clock.Advance(16 * time.Minute)
	_, err := m.RecordAttempt(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}
