// Package handler provides HTTP handlers for the user management API.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/boffins/usermgmt/internal/middleware"
	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/service"
	"github.com/boffins/usermgmt/internal/session"
	"github.com/boffins/usermgmt/internal/token"
)

// AuthHandler handles signup, login, and session-guarded views.
type AuthHandler struct {
	authService service.AuthService
	sessions    *session.Manager
	issuer      *token.Issuer
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService, sessions *session.Manager, issuer *token.Issuer) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		issuer:      issuer,
	}
}

// CredentialsRequest is the HTTP request body for signup and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Signup handles POST /signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	user, err := h.authService.Signup(r.Context(), req.Username, req.Password, models.Role(req.Role))
	if err != nil {
		response.Error(w, err)
		return
	}

	middleware.IncrementSignups()
	response.Created(w, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

// Login handles POST /login. A successful login replaces any existing
// session and returns the fresh CSRF token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	user, err := h.authService.VerifyLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(w, err)
		return
	}

	// Usernames that look like email addresses double as the session email.
	email := ""
	if strings.Contains(user.Username, "@") {
		email = user.Username
	}

	identity, err := h.sessions.Create(w, r, session.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Email:    email,
		Role:     user.Role,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	middleware.IncrementLogins("password")
	response.OK(w, map[string]any{
		"message":    "Login successful",
		"username":   user.Username,
		"role":       user.Role,
		"csrf_token": identity.CSRFToken,
	})
}

// Logout handles POST /logout. Clearing is unconditional so a stale or
// absent cookie still yields success.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(w, r); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"message": "Logged out successfully"})
}

// Dashboard handles GET /dashboard
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireAuth(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	data := map[string]any{
		"username":      identity.Username,
		"role":          identity.Role,
		"login_time":    identity.LoginTime,
		"last_activity": identity.LastActivity,
	}
	if identity.Email != "" {
		data["email"] = identity.Email
	}
	if identity.DisplayName != "" {
		data["display_name"] = identity.DisplayName
	}
	if identity.Provider != nil {
		data["provider"] = identity.Provider
	}
	response.OK(w, data)
}

// Admin handles GET /admin
func (h *AuthHandler) Admin(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireRole(w, r, models.RoleAdmin)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	response.OK(w, map[string]any{
		"message":  "Welcome to the admin panel",
		"username": identity.Username,
	})
}

// Users handles GET /users
func (h *AuthHandler) Users(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.RequireRole(w, r, models.RoleAdmin); err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.listUsers(w, r)
}

// APIUsers handles GET /api/users. Role enforcement happens in the bearer
// middleware chain.
func (h *AuthHandler) APIUsers(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r)
}

func (h *AuthHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.ListUsers(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	views := make([]map[string]any, 0, len(users))
	for _, u := range users {
		views = append(views, map[string]any{
			"id":       u.ID,
			"username": u.Username,
			"role":     u.Role,
		})
	}
	response.OK(w, map[string]any{
		"users": views,
		"total": len(views),
	})
}

// APILogin handles POST /api/login and mints a short-lived bearer token.
// No session state is touched.
func (h *AuthHandler) APILogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	user, err := h.authService.VerifyLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(w, err)
		return
	}

	tokenString, err := h.issuer.Issue(user.Username, user.Role)
	if err != nil {
		response.Error(w, apierrors.ErrInternal)
		return
	}

	response.OK(w, map[string]any{
		"access_token": tokenString,
		"token_type":   "bearer",
	})
}

// SessionInfo handles GET /session/info
func (h *AuthHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.sessions.Info(r))
}

// writeSessionError renders guard failures. Browser paths get a redirect for
// missing authentication; API paths and permission failures stay JSON.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.AsAPIError(err)
	if apiErr.StatusCode == http.StatusUnauthorized && !strings.HasPrefix(r.URL.Path, "/api/") {
		http.Redirect(w, r, "/?error=auth_required", http.StatusFound)
		return
	}
	response.Error(w, err)
}
