package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "recruitportal"
)

// TokenKind separates access tokens from refresh tokens. Each kind is signed
// with its own secret and carries its kind in the typ claim.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenConfig holds the signing material and lifetimes for issued tokens.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Role      Role
	Kind      TokenKind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Type TokenKind `json:"typ"`
	Role string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies HS256 JWTs.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the clock used for issuing and validating tokens.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	s := &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        strings.TrimSpace(cfg.Issuer),
		now:           time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueAccessToken signs a short-lived token carrying the user's role.
func (s *TokenService) IssueAccessToken(userID string, role Role) (string, time.Time, error) {
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: cannot issue token for %s", ErrInvalidInput, role)
	}
	return s.issue(userID, TokenAccess, role.String(), s.accessTTL, s.accessSecret)
}

// IssueRefreshToken signs a long-lived token that identifies only the user.
func (s *TokenService) IssueRefreshToken(userID string) (string, time.Time, error) {
	return s.issue(userID, TokenRefresh, "", s.refreshTTL, s.refreshSecret)
}

func (s *TokenService) issue(userID string, kind TokenKind, role string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims := tokenClaims{
		Type: kind,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, kind and validity window. It returns ErrTokenExpired
// once the window has passed and ErrTokenMalformed for everything else.
func (s *TokenService) Verify(token string, kind TokenKind) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}
	var secret []byte
	switch kind {
	case TokenAccess:
		secret = s.accessSecret
	case TokenRefresh:
		secret = s.refreshSecret
	default:
		return Claims{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	var tc tokenClaims
	parsed, err := parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	default:
		return Claims{}, ErrTokenMalformed
	}
	if !parsed.Valid || tc.Type != kind || strings.TrimSpace(tc.Subject) == "" {
		return Claims{}, ErrTokenMalformed
	}

	out := Claims{
		UserID:    tc.Subject,
		Kind:      tc.Type,
		ID:        tc.ID,
		ExpiresAt: tc.ExpiresAt.Time,
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	if kind == TokenAccess {
		role, err := ParseRole(tc.Role)
		if err != nil {
			return Claims{}, ErrTokenMalformed
		}
		out.Role = role
	}
	return out, nil
}
