package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/boffins/usermgmt/internal/middleware"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/service"
	"github.com/boffins/usermgmt/internal/session"
)

const (
	stateCookieName = "oauth_state"
	stateCookieAge  = 10 * time.Minute
	exchangeTimeout = 5 * time.Second
	callbackPath    = "/auth/callback"
)

// OAuthHandler handles the Google OAuth login flow.
type OAuthHandler struct {
	oauthService service.OAuthService
	sessions     *session.Manager
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(oauthService service.OAuthService, sessions *session.Manager) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		sessions:     sessions,
	}
}

// LoginGoogle handles GET /login/google
func (h *OAuthHandler) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	if !h.oauthService.Enabled() {
		response.Error(w, apierrors.ErrOAuthNotConfigured)
		return
	}

	// Any existing session is dropped before starting a new flow.
	if err := h.sessions.Clear(w, r); err != nil {
		response.Error(w, err)
		return
	}

	state := newStateToken()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := h.oauthService.AuthURL(redirectURL(r), state)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/callback
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.oauthService.Enabled() {
		response.Error(w, apierrors.ErrOAuthNotConfigured)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		response.Error(w, apierrors.ErrUpstreamAuth)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(stateCookieName)
	if code == "" || err != nil || state == "" || state != stateCookie.Value {
		response.Error(w, apierrors.ErrUpstreamAuth)
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	user, info, err := h.oauthService.HandleCallback(ctx, code, redirectURL(r))
	if err != nil {
		response.Error(w, err)
		return
	}

	if _, err := h.sessions.Create(w, r, session.Identity{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       info.Email,
		Role:        user.Role,
		DisplayName: info.Name,
		Provider: &session.ProviderInfo{
			Name:    "google",
			Picture: info.Picture,
			Subject: info.Subject,
		},
	}); err != nil {
		response.Error(w, err)
		return
	}

	middleware.IncrementLogins("google")
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// redirectURL derives the callback URL from the incoming request so the flow
// works behind any hostname or proxy.
func redirectURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + callbackPath
}

func newStateToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("oauth: crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
