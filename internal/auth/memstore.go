package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"recruitportal.org/internal/ids"
)

// MemoryStore is a process-local Store used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
	byEID   map[string]string
	roles   map[string][]RoleAssignment
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		byEID:   make(map[string]string),
		roles:   make(map[string][]RoleAssignment),
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source for created rows.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByEmail(email)
}

func (s *MemoryStore) FindByEID(_ context.Context, eid string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByEID(eid)
}

func (s *MemoryStore) CreateUser(_ context.Context, u NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, _, err := s.createUser(u)
	return user, err
}

func (s *MemoryStore) CreateRoleAssignment(_ context.Context, a RoleAssignment) (RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, _, err := s.createRoleAssignment(a)
	return out, err
}

func (s *MemoryStore) GetPrimaryRole(_ context.Context, userID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[userID]; !ok {
		return 0, ErrNotFound
	}
	return PrimaryRole(s.roles[userID]), nil
}

func (s *MemoryStore) GetProfileWithRoles(_ context.Context, userID string) (User, []RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, nil, ErrNotFound
	}
	roles := make([]RoleAssignment, len(s.roles[userID]))
	copy(roles, s.roles[userID])
	sort.SliceStable(roles, func(i, j int) bool {
		if !roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].CreatedAt.Before(roles[j].CreatedAt)
		}
		return roles[i].ID < roles[j].ID
	})
	return u, roles, nil
}

// InTx holds the write lock for the whole of fn, so readers never observe a
// half-applied transaction. Writes are undone in reverse order when fn fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) findByEmail(email string) (User, error) {
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) findByEID(eid string) (User, error) {
	id, ok := s.byEID[eid]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) createUser(u NewUser) (User, func(), error) {
	if _, ok := s.byEmail[u.Email]; ok {
		return User{}, nil, ErrDuplicateEmail
	}
	if u.EID != nil {
		if _, ok := s.byEID[*u.EID]; ok {
			return User{}, nil, ErrDuplicateEID
		}
	}
	now := s.now().UTC()
	user := User{
		ID:           ids.New(),
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		EID:          u.EID,
		Major:        u.Major,
		Year:         u.Year,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	if user.EID != nil {
		s.byEID[*user.EID] = user.ID
	}
	undo := func() {
		delete(s.users, user.ID)
		delete(s.byEmail, user.Email)
		if user.EID != nil {
			delete(s.byEID, *user.EID)
		}
		delete(s.roles, user.ID)
	}
	return user, undo, nil
}

func (s *MemoryStore) createRoleAssignment(a RoleAssignment) (RoleAssignment, func(), error) {
	if _, ok := s.users[a.UserID]; !ok {
		return RoleAssignment{}, nil, ErrNotFound
	}
	if !a.Role.Valid() {
		return RoleAssignment{}, nil, invalid("role", "role is invalid")
	}
	for _, existing := range s.roles[a.UserID] {
		if existing.Role == a.Role && sameScope(existing.Team, a.Team) && sameScope(existing.System, a.System) {
			return RoleAssignment{}, nil, ErrDuplicateRoleAssignment
		}
	}
	a.ID = ids.New()
	a.CreatedAt = s.now().UTC()
	prev := s.roles[a.UserID]
	s.roles[a.UserID] = append(append([]RoleAssignment(nil), prev...), a)
	undo := func() { s.roles[a.UserID] = prev }
	return a, undo, nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// memTx runs Store methods against a MemoryStore whose lock is already held.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) FindByEmail(_ context.Context, email string) (User, error) {
	return t.s.findByEmail(email)
}

func (t *memTx) FindByEID(_ context.Context, eid string) (User, error) {
	return t.s.findByEID(eid)
}

func (t *memTx) CreateUser(_ context.Context, u NewUser) (User, error) {
	user, undo, err := t.s.createUser(u)
	if err != nil {
		return User{}, err
	}
	t.undo = append(t.undo, undo)
	return user, nil
}

func (t *memTx) CreateRoleAssignment(_ context.Context, a RoleAssignment) (RoleAssignment, error) {
	out, undo, err := t.s.createRoleAssignment(a)
	if err != nil {
		return RoleAssignment{}, err
	}
	t.undo = append(t.undo, undo)
	return out, nil
}

func (t *memTx) GetPrimaryRole(_ context.Context, userID string) (Role, error) {
	if _, ok := t.s.users[userID]; !ok {
		return 0, ErrNotFound
	}
	return PrimaryRole(t.s.roles[userID]), nil
}

func (t *memTx) GetProfileWithRoles(_ context.Context, userID string) (User, []RoleAssignment, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return User{}, nil, ErrNotFound
	}
	return u, append([]RoleAssignment(nil), t.s.roles[userID]...), nil
}

func (t *memTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}
