package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boffins/usermgmt/internal/middleware"
	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/service"
	"github.com/boffins/usermgmt/internal/session"
)

// ProfileHandler handles profile CRUD over both session and bearer auth.
type ProfileHandler struct {
	profileService service.ProfileService
	authService    service.AuthService
	sessions       *session.Manager
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(
	profileService service.ProfileService,
	authService service.AuthService,
	sessions *session.Manager,
) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		authService:    authService,
		sessions:       sessions,
	}
}

// SessionRoutes mounts the cookie-authenticated profile routes.
func (h *ProfileHandler) SessionRoutes(r chi.Router) {
	r.Post("/profile", h.Create)
	r.Get("/profile/me", h.GetMine)
	r.Put("/profile/me", h.UpdateMine)
	r.Delete("/profile/me", h.DeleteMine)
	r.Get("/profile/all", h.ListAll)
}

// TokenRoutes returns a router for the bearer-authenticated profile routes,
// to be mounted under /api/profile behind RequireToken.
func (h *ProfileHandler) TokenRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateByToken)
	r.Get("/me", h.GetMineByToken)
	r.Put("/me", h.UpdateMineByToken)
	r.Delete("/me", h.DeleteMineByToken)
	return r
}

// Create handles POST /profile
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireAuth(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.create(w, r, identity.UserID)
}

// GetMine handles GET /profile/me
func (h *ProfileHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireAuth(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.get(w, r, identity.UserID)
}

// UpdateMine handles PUT /profile/me
func (h *ProfileHandler) UpdateMine(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireAuth(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.update(w, r, identity.UserID)
}

// DeleteMine handles DELETE /profile/me
func (h *ProfileHandler) DeleteMine(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.RequireAuth(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.delete(w, r, identity.UserID)
}

// ListAll handles GET /profile/all
func (h *ProfileHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.RequireRole(w, r, models.RoleAdmin); err != nil {
		writeSessionError(w, r, err)
		return
	}

	profiles, err := h.profileService.ListAll(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{
		"profiles": profiles,
		"total":    len(profiles),
	})
}

// CreateByToken handles POST /api/profile
func (h *ProfileHandler) CreateByToken(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokenUserID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	h.create(w, r, userID)
}

// GetMineByToken handles GET /api/profile/me
func (h *ProfileHandler) GetMineByToken(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokenUserID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	h.get(w, r, userID)
}

// UpdateMineByToken handles PUT /api/profile/me
func (h *ProfileHandler) UpdateMineByToken(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokenUserID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	h.update(w, r, userID)
}

// DeleteMineByToken handles DELETE /api/profile/me
func (h *ProfileHandler) DeleteMineByToken(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokenUserID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	h.delete(w, r, userID)
}

// tokenUserID resolves the bearer token subject to a user record. The token
// only carries the username, so deleted accounts fail here with not found.
func (h *ProfileHandler) tokenUserID(r *http.Request) (uuid.UUID, error) {
	username := middleware.SubjectFromContext(r.Context())
	if username == "" {
		return uuid.Nil, apierrors.ErrUnauthorized
	}
	user, err := h.authService.GetUserByUsername(r.Context(), username)
	if err != nil {
		return uuid.Nil, err
	}
	if user == nil {
		return uuid.Nil, apierrors.NewNotFoundError("User")
	}
	return user.ID, nil
}

func (h *ProfileHandler) create(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var input service.ProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	profile, err := h.profileService.Create(r.Context(), userID, input)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, profile)
}

func (h *ProfileHandler) get(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	profile, err := h.profileService.GetByUser(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, profile)
}

func (h *ProfileHandler) update(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var input service.ProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	profile, err := h.profileService.Update(r.Context(), userID, input)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, profile)
}

func (h *ProfileHandler) delete(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	if err := h.profileService.Delete(r.Context(), userID); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"message": "Profile deleted"})
}
