package throttle

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// Memory keeps attempt windows in process memory.
type Memory struct {
	mu        sync.Mutex
	policy    Policy
	now       func() time.Time
	windows   map[string]*window
	lastSweep time.Time
}

var _ Throttle = (*Memory)(nil)

// MemoryOption configures a Memory throttle.
type MemoryOption func(*Memory)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(p Policy, opts ...MemoryOption) *Memory {
	m := &Memory{
		policy:  p.normalized(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

func (m *Memory) Check(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.windows[key]
	if !ok || m.expired(w, now) {
		return Decision{Allowed: true, Remaining: m.policy.Limit}, nil
	}
	return m.decide(w, now), nil
}

func (m *Memory) RecordAttempt(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)

	w, ok := m.windows[key]
	if !ok || m.expired(w, now) {
		w = &window{start: now}
		m.windows[key] = w
	}
	if w.count >= m.policy.Limit {
		return m.decide(w, now), nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: m.policy.Limit - w.count, Window: w.start}, nil
}

func (m *Memory) Refund(_ context.Context, key string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || !w.start.Equal(start) || m.expired(w, m.now()) || w.count == 0 {
		return nil
	}
	w.count--
	return nil
}

func (m *Memory) decide(w *window, now time.Time) Decision {
	if w.count < m.policy.Limit {
		return Decision{Allowed: true, Remaining: m.policy.Limit - w.count, Window: w.start}
	}
	return Decision{RetryAfter: w.start.Add(m.policy.Window).Sub(now), Window: w.start}
}

func (m *Memory) expired(w *window, now time.Time) bool {
	return !now.Before(w.start.Add(m.policy.Window))
}

// sweep drops expired windows at most once per window length.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.policy.Window {
		return
	}
	for k, w := range m.windows {
		if m.expired(w, now) {
			delete(m.windows, k)
		}
	}
	m.lastSweep = now
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
