package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"recruitportal.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	challengeMissing   = `Bearer realm="recruitportal"`
	challengeInvalid   = `Bearer realm="recruitportal", error="invalid_token"`
	challengeForbidden = `Bearer realm="recruitportal", error="insufficient_scope"`
)

// TokenVerifier checks a signed token of the given kind.
type TokenVerifier interface {
	Verify(token string, kind auth.TokenKind) (auth.Claims, error)
}

// Authenticate requires a valid access token and attaches the caller's
// identity to the request context.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				w.Header().Set("WWW-Authenticate", challengeMissing)
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			claims, err := v.Verify(token, auth.TokenAccess)
			if err != nil {
				w.Header().Set("WWW-Authenticate", challengeInvalid)
				if errors.Is(err, auth.ErrUnauthorized) {
					writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				handleAuthError(w, r, err)
				return
			}
			ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: claims.UserID, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits requests whose authenticated role is one of roles. It
// trusts the identity placed by Authenticate and never re-verifies the token.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok || id.UserID == "" {
				w.Header().Set("WWW-Authenticate", challengeMissing)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", challengeForbidden)
			writeError(w, r, http.StatusForbidden, "insufficient role")
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
