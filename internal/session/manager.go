// Package session implements cookie-backed session management with
// activity-based expiry and role guards.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
)

// Session value keys. Kept flat so Info can enumerate them.
const (
	keyUserID          = "user_id"
	keyUsername        = "username"
	keyEmail           = "email"
	keyRole            = "role"
	keyLoginTime       = "login_time"
	keyLastActivity    = "last_activity"
	keyAuthenticated   = "authenticated"
	keyDisplayName     = "display_name"
	keyCSRFToken       = "csrf_token"
	keyProviderName    = "provider_name"
	keyProviderPicture = "provider_picture"
	keyProviderSubject = "provider_subject"
)

// ProviderInfo carries identity-provider metadata captured at OAuth login.
type ProviderInfo struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Identity is the resolved authenticated identity held by a session.
// A session is either fully populated and authenticated or absent; callers
// never observe a partial record.
type Identity struct {
	UserID       uuid.UUID     `json:"user_id"`
	Username     string        `json:"username"`
	Email        string        `json:"email,omitempty"`
	Role         models.Role   `json:"role"`
	DisplayName  string        `json:"display_name,omitempty"`
	LoginTime    time.Time     `json:"login_time"`
	LastActivity time.Time     `json:"last_activity"`
	CSRFToken    string        `json:"-"`
	Provider     *ProviderInfo `json:"provider,omitempty"`
}

// Info is a read-only diagnostic snapshot of session state. It never carries
// the CSRF token or any credential material.
type Info struct {
	Status       string   `json:"status"`
	Username     string   `json:"username,omitempty"`
	Role         string   `json:"role,omitempty"`
	LoginTime    string   `json:"login_time,omitempty"`
	LastActivity string   `json:"last_activity,omitempty"`
	SessionKeys  []string `json:"session_keys,omitempty"`
}

// Manager owns the cookie session store and all session lifecycle operations.
type Manager struct {
	store      sessions.Store
	cookieName string
	maxAge     time.Duration
	now        func() time.Time
}

// NewManager creates a session manager backed by a signed cookie store.
// maxAge bounds inactivity: a session older than maxAge since its last
// authenticated read is treated as absent and cleared lazily.
func NewManager(secret, cookieName string, maxAge time.Duration) *Manager {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{
		store:      store,
		cookieName: cookieName,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Create replaces any existing session state with a fresh authenticated
// record and generates a new CSRF token. The returned identity carries the
// stored timestamps and the token.
func (m *Manager) Create(w http.ResponseWriter, r *http.Request, identity Identity) (*Identity, error) {
	session, _ := m.store.Get(r, m.cookieName)

	// Drop any stale state so the record is rebuilt whole.
	for k := range session.Values {
		delete(session.Values, k)
	}

	now := m.now().UTC()
	identity.LoginTime = now
	identity.LastActivity = now
	identity.CSRFToken = newCSRFToken()

	session.Values[keyUserID] = identity.UserID.String()
	session.Values[keyUsername] = identity.Username
	session.Values[keyEmail] = identity.Email
	session.Values[keyRole] = string(identity.Role)
	session.Values[keyLoginTime] = now.Format(time.RFC3339Nano)
	session.Values[keyLastActivity] = now.Format(time.RFC3339Nano)
	session.Values[keyAuthenticated] = true
	session.Values[keyDisplayName] = identity.DisplayName
	session.Values[keyCSRFToken] = identity.CSRFToken
	if identity.Provider != nil {
		session.Values[keyProviderName] = identity.Provider.Name
		session.Values[keyProviderPicture] = identity.Provider.Picture
		session.Values[keyProviderSubject] = identity.Provider.Subject
	}

	if err := session.Save(r, w); err != nil {
		return nil, err
	}
	return &identity, nil
}

// Current returns the authenticated identity, or nil when the session is
// absent or expired. A successful read refreshes the activity timestamp.
func (m *Manager) Current(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	session, err := m.store.Get(r, m.cookieName)
	if err != nil {
		// A cookie that fails signature verification is an anonymous
		// request, not a server error.
		return nil, nil
	}

	authenticated, _ := session.Values[keyAuthenticated].(bool)
	if !authenticated {
		return nil, nil
	}

	lastActivity, ok := parseSessionTime(session.Values[keyLastActivity])
	if !ok || m.now().UTC().Sub(lastActivity) > m.maxAge {
		m.wipe(session, w, r)
		return nil, nil
	}

	identity, ok := m.identityFromValues(session.Values)
	if !ok {
		// Partial records are never surfaced; treat as absent.
		m.wipe(session, w, r)
		return nil, nil
	}

	now := m.now().UTC()
	session.Values[keyLastActivity] = now.Format(time.RFC3339Nano)
	if err := session.Save(r, w); err != nil {
		return nil, err
	}
	identity.LastActivity = now

	return identity, nil
}

// RequireAuth returns the authenticated identity or ErrUnauthorized.
func (m *Manager) RequireAuth(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	identity, err := m.Current(w, r)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, apierrors.ErrUnauthorized
	}
	return identity, nil
}

// RequireRole returns the authenticated identity or fails with
// ErrUnauthorized / a forbidden error naming the required role.
func (m *Manager) RequireRole(w http.ResponseWriter, r *http.Request, role models.Role) (*Identity, error) {
	identity, err := m.RequireAuth(w, r)
	if err != nil {
		return nil, err
	}
	if identity.Role != role {
		return nil, apierrors.NewForbiddenError(fmt.Sprintf("Access denied. %s role required.", role))
	}
	return identity, nil
}

// Clear unconditionally wipes all session state.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, m.cookieName)
	return m.wipe(session, w, r)
}

// Info returns a diagnostic snapshot of the current session.
func (m *Manager) Info(r *http.Request) Info {
	session, err := m.store.Get(r, m.cookieName)
	if err != nil {
		return Info{Status: "not_authenticated"}
	}

	authenticated, _ := session.Values[keyAuthenticated].(bool)
	if !authenticated {
		return Info{Status: "not_authenticated"}
	}

	keys := make([]string, 0, len(session.Values))
	for k := range session.Values {
		if name, ok := k.(string); ok {
			keys = append(keys, name)
		}
	}

	username, _ := session.Values[keyUsername].(string)
	role, _ := session.Values[keyRole].(string)
	loginTime, _ := session.Values[keyLoginTime].(string)
	lastActivity, _ := session.Values[keyLastActivity].(string)

	return Info{
		Status:       "authenticated",
		Username:     username,
		Role:         role,
		LoginTime:    loginTime,
		LastActivity: lastActivity,
		SessionKeys:  keys,
	}
}

func (m *Manager) wipe(session *sessions.Session, w http.ResponseWriter, r *http.Request) error {
	for k := range session.Values {
		delete(session.Values, k)
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

func (m *Manager) identityFromValues(values map[interface{}]interface{}) (*Identity, bool) {
	userIDStr, _ := values[keyUserID].(string)
	username, _ := values[keyUsername].(string)
	roleStr, _ := values[keyRole].(string)

	userID, err := uuid.Parse(userIDStr)
	if err != nil || username == "" || !models.Role(roleStr).Valid() {
		return nil, false
	}

	loginTime, ok := parseSessionTime(values[keyLoginTime])
	if !ok {
		return nil, false
	}
	lastActivity, ok := parseSessionTime(values[keyLastActivity])
	if !ok {
		return nil, false
	}

	email, _ := values[keyEmail].(string)
	displayName, _ := values[keyDisplayName].(string)
	csrfToken, _ := values[keyCSRFToken].(string)

	identity := &Identity{
		UserID:       userID,
		Username:     username,
		Email:        email,
		Role:         models.Role(roleStr),
		DisplayName:  displayName,
		LoginTime:    loginTime,
		LastActivity: lastActivity,
		CSRFToken:    csrfToken,
	}

	if providerName, ok := values[keyProviderName].(string); ok && providerName != "" {
		picture, _ := values[keyProviderPicture].(string)
		subject, _ := values[keyProviderSubject].(string)
		identity.Provider = &ProviderInfo{
			Name:    providerName,
			Picture: picture,
			Subject: subject,
		}
	}

	return identity, true
}

func parseSessionTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// newCSRFToken generates a cryptographically random, URL-safe CSRF token.
func newCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: crypto/rand failed: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}

// SetClock overrides the manager's time source. Test use only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
