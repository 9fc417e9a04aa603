package httpapi

import (
	"errors"
	"net/http"
	"time"

	"recruitportal.org/internal/audit"
	"recruitportal.org/internal/auth"
)

type registerRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	EID       *string `json:"eid,omitempty"`
	Major     *string `json:"major,omitempty"`
	Year      *int    `json:"year,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type grantRoleRequest struct {
	UserID string  `json:"userId"`
	Role   string  `json:"role"`
	Team   *string `json:"team,omitempty"`
	System *string `json:"system,omitempty"`
}

type userPayload struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	EID       *string     `json:"eid"`
	Major     *auth.Major `json:"major"`
	Year      *auth.Year  `json:"year"`
	Role      auth.Role   `json:"role"`
}

type sessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         userPayload `json:"user"`
}

type refreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type roleAssignmentPayload struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Role      auth.Role  `json:"role"`
	Team      *string    `json:"team,omitempty"`
	System    *string    `json:"system,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type profileResponse struct {
	ID        string                  `json:"id"`
	Email     string                  `json:"email"`
	FirstName string                  `json:"firstName"`
	LastName  string                  `json:"lastName"`
	EID       *string                 `json:"eid"`
	Major     *auth.Major             `json:"major"`
	Year      *auth.Year              `json:"year"`
	Roles     []roleAssignmentPayload `json:"roles"`
}

func sessionPayload(s auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.AccessExpiresAt,
		User: userPayload{
			ID:        s.User.ID,
			Email:     s.User.Email,
			FirstName: s.User.FirstName,
			LastName:  s.User.LastName,
			EID:       s.User.EID,
			Major:     s.User.Major,
			Year:      s.User.Year,
			Role:      s.Role,
		},
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		EID:       req.EID,
		Major:     req.Major,
		Year:      req.Year,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRegistered, map[string]any{
		"subject_id": sess.User.ID,
		"role":       sess.Role.String(),
	})
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client := clientIP(r, a.trustProxy)
	sess, err := a.svc.Login(r.Context(), req.Email, req.Password, client)
	if err != nil {
		var rl *auth.RateLimitedError
		switch {
		case errors.As(err, &rl):
			_ = audit.LogEvent(r.Context(), audit.EventLoginThrottled, map[string]any{
				"client":        client,
				"retry_seconds": rl.RetrySeconds(),
			})
		case errors.Is(err, auth.ErrInvalidCredentials):
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"client": client})
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLoginSucceeded, map[string]any{
		"subject_id": sess.User.ID,
		"role":       sess.Role.String(),
		"client":     client,
	})
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventTokenRefreshed, map[string]any{
		"role": grant.Role.String(),
	})
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: grant.AccessToken, ExpiresAt: grant.ExpiresAt})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	p, err := a.svc.Me(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	roles := make([]roleAssignmentPayload, 0, len(p.Roles))
	for _, ra := range p.Roles {
		roles = append(roles, roleAssignmentPayload{Role: ra.Role, Team: ra.Team, System: ra.System})
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ID:        p.User.ID,
		Email:     p.User.Email,
		FirstName: p.User.FirstName,
		LastName:  p.User.LastName,
		EID:       p.User.EID,
		Major:     p.User.Major,
		Year:      p.User.Year,
		Roles:     roles,
	})
}

func (a *API) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req grantRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "role is invalid")
		return
	}
	ra, err := a.svc.GrantRole(r.Context(), auth.RoleAssignment{
		UserID: req.UserID,
		Role:   role,
		Team:   req.Team,
		System: req.System,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleGranted, map[string]any{
		"subject_id": ra.UserID,
		"granted":    ra.Role.String(),
	})
	writeJSON(w, http.StatusCreated, roleAssignmentPayload{
		ID:        ra.ID,
		UserID:    ra.UserID,
		Role:      ra.Role,
		Team:      ra.Team,
		System:    ra.System,
		CreatedAt: &ra.CreatedAt,
	})
}
