package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"recruitportal.org/internal/obs"
	"recruitportal.org/internal/throttle"
)

const (
	maxEmailLength    = 300
	maxEIDLength      = 10
	defaultWriteLimit = 10 * time.Second
	unknownClientKey  = "unknown"
)

// RegisterInput is the raw registration payload. Optional fields are nil when
// the client omitted them.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	EID       *string
	Major     *string
	Year      *int
}

// Session is the result of a successful register or login.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             User
	Role             Role
}

// AccessGrant is the result of a refresh.
type AccessGrant struct {
	AccessToken string
	ExpiresAt   time.Time
	Role        Role
}

// Service orchestrates registration, login, refresh and profile lookups.
type Service struct {
	store        Store
	tokens       *TokenService
	hasher       Hasher
	throttle     throttle.Throttle
	writeTimeout time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithWriteTimeout bounds the registration transaction, which runs detached
// from the caller's cancellation.
func WithWriteTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return errors.New("auth: write timeout must be positive")
		}
		s.writeTimeout = d
		return nil
	}
}

func NewService(store Store, tokens *TokenService, hasher Hasher, limiter throttle.Throttle, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || hasher == nil || limiter == nil {
		return nil, errors.New("auth: store, tokens, hasher and throttle are required")
	}
	s := &Service{
		store:        store,
		tokens:       tokens,
		hasher:       hasher,
		throttle:     limiter,
		writeTimeout: defaultWriteLimit,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the token service for request authentication.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Register validates the payload, creates the user together with the default
// applicant role and returns a fresh token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	nu, err := normalizeRegistration(in)
	if err != nil {
		obs.RecordRegistration("invalid")
		return Session{}, err
	}

	// Conflicts still pay for a hash so they answer no faster than a new
	// account would.
	if _, err := s.store.FindByEmail(ctx, nu.Email); err == nil {
		s.burnHash(in.Password)
		obs.RecordRegistration("conflict")
		return Session{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		obs.RecordRegistration("error")
		return Session{}, fmt.Errorf("lookup email: %w", err)
	}
	if nu.EID != nil {
		if _, err := s.store.FindByEID(ctx, *nu.EID); err == nil {
			s.burnHash(in.Password)
			obs.RecordRegistration("conflict")
			return Session{}, ErrDuplicateEID
		} else if !errors.Is(err, ErrNotFound) {
			obs.RecordRegistration("error")
			return Session{}, fmt.Errorf("lookup eid: %w", err)
		}
	}

	nu.PasswordHash, err = s.hasher.Hash(in.Password)
	if err != nil {
		obs.RecordRegistration("error")
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	// The write outlives a disconnected client so the row and its role either
	// both land or neither does.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	var user User
	err = s.store.InTx(writeCtx, func(tx Store) error {
		var err error
		user, err = tx.CreateUser(writeCtx, nu)
		if err != nil {
			return err
		}
		_, err = tx.CreateRoleAssignment(writeCtx, RoleAssignment{UserID: user.ID, Role: RoleApplicant})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			obs.RecordRegistration("conflict")
			return Session{}, err
		}
		obs.RecordRegistration("error")
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	sess, err := s.issueSession(user, RoleApplicant)
	if err != nil {
		obs.RecordRegistration("error")
		return Session{}, err
	}
	obs.RecordRegistration("success")
	return sess, nil
}

// Login verifies credentials under the per-client attempt budget. Every
// failure consumes an attempt; a success hands its own attempt back.
func (s *Service) Login(ctx context.Context, email, password, clientKey string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		obs.RecordLogin("invalid")
		return Session{}, invalid("email", "email and password are required")
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = unknownClientKey
	}

	decision, err := s.throttle.RecordAttempt(ctx, clientKey)
	if err != nil {
		obs.RecordLogin("error")
		return Session{}, StorageError("login throttle", err)
	}
	if !decision.Allowed {
		obs.RecordLogin("throttled")
		return Session{}, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.burnHash(password)
		obs.RecordLogin("failure")
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		obs.RecordLogin("error")
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		obs.RecordLogin("error")
		return Session{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		obs.RecordLogin("failure")
		return Session{}, ErrInvalidCredentials
	}

	if err := s.throttle.Refund(ctx, clientKey, decision.Window); err != nil {
		obs.Log("warn", "login throttle refund failed", map[string]any{"error": err.Error()})
	}

	role, err := s.store.GetPrimaryRole(ctx, user.ID)
	if err != nil {
		obs.RecordLogin("error")
		return Session{}, fmt.Errorf("resolve role: %w", err)
	}
	sess, err := s.issueSession(user, role)
	if err != nil {
		obs.RecordLogin("error")
		return Session{}, err
	}
	obs.RecordLogin("success")
	return sess, nil
}

// Refresh exchanges a refresh token for a new access token. The role is read
// from the store, so upgrades take effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		obs.RecordRefresh("invalid")
		return AccessGrant{}, invalid("refreshToken", "refresh token is required")
	}
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		obs.RecordRefresh("rejected")
		return AccessGrant{}, err
	}
	role, err := s.store.GetPrimaryRole(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		obs.RecordRefresh("rejected")
		return AccessGrant{}, ErrInvalidCredentials
	}
	if err != nil {
		obs.RecordRefresh("error")
		return AccessGrant{}, fmt.Errorf("resolve role: %w", err)
	}
	token, exp, err := s.tokens.IssueAccessToken(claims.UserID, role)
	if err != nil {
		obs.RecordRefresh("error")
		return AccessGrant{}, err
	}
	obs.RecordTokenIssued(string(TokenAccess))
	obs.RecordRefresh("success")
	return AccessGrant{AccessToken: token, ExpiresAt: exp, Role: role}, nil
}

// Me returns the profile and every role assignment of the given user.
func (s *Service) Me(ctx context.Context, userID string) (Profile, error) {
	user, roles, err := s.store.GetProfileWithRoles(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: user, Roles: roles}, nil
}

// GrantRole adds a role assignment to an existing user.
func (s *Service) GrantRole(ctx context.Context, a RoleAssignment) (RoleAssignment, error) {
	a.UserID = strings.TrimSpace(a.UserID)
	if a.UserID == "" {
		return RoleAssignment{}, invalid("userId", "user id is required")
	}
	if !a.Role.Valid() {
		return RoleAssignment{}, invalid("role", "role is invalid")
	}
	a.Team = optionalString(a.Team)
	a.System = optionalString(a.System)
	return s.store.CreateRoleAssignment(ctx, a)
}

func (s *Service) issueSession(user User, role Role) (Session, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(user.ID, role)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	obs.RecordTokenIssued(string(TokenAccess))
	obs.RecordTokenIssued(string(TokenRefresh))
	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
		Role:             role,
	}, nil
}

// burnHash spends roughly the cost of a real verification so unknown emails
// are not distinguishable by response time.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("Unused-Password-1!")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(s.dummyHash, password)
	}
}

func normalizeRegistration(in RegisterInput) (NewUser, error) {
	nu := NewUser{
		Email:     strings.TrimSpace(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	switch {
	case nu.Email == "":
		return NewUser{}, invalid("email", "email, password, first name, and last name are required")
	case in.Password == "":
		return NewUser{}, invalid("password", "email, password, first name, and last name are required")
	case nu.FirstName == "":
		return NewUser{}, invalid("firstName", "email, password, first name, and last name are required")
	case nu.LastName == "":
		return NewUser{}, invalid("lastName", "email, password, first name, and last name are required")
	}

	if err := validateEmail(nu.Email); err != nil {
		return NewUser{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		var pv *PolicyViolation
		if errors.As(err, &pv) {
			return NewUser{}, invalid("password", pv.Error())
		}
		return NewUser{}, err
	}

	nu.EID = optionalString(in.EID)
	if nu.EID != nil && utf8.RuneCountInString(*nu.EID) > maxEIDLength {
		return NewUser{}, invalid("eid", "eid must be at most 10 characters")
	}
	if m := optionalString(in.Major); m != nil {
		major := Major(*m)
		if !major.Valid() {
			return NewUser{}, invalid("major", "major must be one of the listed majors")
		}
		nu.Major = &major
	}
	if in.Year != nil {
		year := Year(*in.Year)
		if !year.Valid() {
			return NewUser{}, invalid("year", "year must be between 1 and 6")
		}
		nu.Year = &year
	}
	return nu, nil
}

func validateEmail(email string) error {
	if utf8.RuneCountInString(email) > maxEmailLength {
		return invalid("email", "email must be at most 300 characters")
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return invalid("email", "email is invalid")
	}
	return nil
}

func optionalString(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
