package session

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
)

const testSecret = "test-secret-key"

func newTestManager() *Manager {
	return NewManager(testSecret, "auth_session", 24*time.Hour)
}

func testIdentity() Identity {
	return Identity{
		UserID:   uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
		Role:     models.RoleUser,
	}
}

// login creates a session and returns a request carrying its cookies.
func login(t *testing.T, m *Manager, identity Identity) (*Identity, *http.Request) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)

	stored, err := m.Create(rec, req, identity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return stored, requestWithCookies(t, rec)
}

// requestWithCookies builds a fresh request carrying the cookies a previous
// response set.
func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestCreateAndCurrent(t *testing.T) {
	m := newTestManager()
	identity := testIdentity()

	stored, req := login(t, m, identity)
	if stored.CSRFToken == "" {
		t.Fatal("expected CSRF token to be generated")
	}
	if _, err := base64.URLEncoding.DecodeString(stored.CSRFToken); err != nil {
		t.Errorf("CSRF token is not URL-safe base64: %v", err)
	}

	got, err := m.Current(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected authenticated identity")
	}
	if got.UserID != identity.UserID || got.Username != "alice" || got.Role != models.RoleUser {
		t.Errorf("identity fields lost in round trip: %+v", got)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email lost in round trip: %q", got.Email)
	}
	if got.CSRFToken != stored.CSRFToken {
		t.Error("CSRF token changed across reads")
	}
}

func TestCurrentAnonymous(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)

	got, err := m.Current(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil identity for bare request, got %+v", got)
	}
}

func TestCurrentTamperedCookie(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "auth_session", Value: "garbage-value"})

	got, err := m.Current(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("tampered cookie must not surface an error, got %v", err)
	}
	if got != nil {
		t.Error("tampered cookie must be treated as anonymous")
	}
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	m := newTestManager()
	base := time.Now()
	m.SetClock(func() time.Time { return base })

	_, req := login(t, m, testIdentity())

	m.SetClock(func() time.Time { return base.Add(24*time.Hour + time.Minute) })
	got, err := m.Current(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired session to be treated as absent")
	}
}

func TestActivityRefreshExtendsSession(t *testing.T) {
	m := newTestManager()
	base := time.Now()
	m.SetClock(func() time.Time { return base })

	_, req := login(t, m, testIdentity())

	// Read at 23h keeps the session alive.
	m.SetClock(func() time.Time { return base.Add(23 * time.Hour) })
	rec := httptest.NewRecorder()
	got, err := m.Current(rec, req)
	if err != nil || got == nil {
		t.Fatalf("expected live session at 23h, got %v / %v", got, err)
	}

	// 46h after login but only 23h after the last read.
	req2 := requestWithCookies(t, rec)
	m.SetClock(func() time.Time { return base.Add(46 * time.Hour) })
	got, err = m.Current(httptest.NewRecorder(), req2)
	if err != nil || got == nil {
		t.Fatalf("expected refreshed session to survive, got %v / %v", got, err)
	}
}

func TestRequireAuth(t *testing.T) {
	m := newTestManager()

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	_, err := m.RequireAuth(httptest.NewRecorder(), req)
	if err != apierrors.ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	_, authedReq := login(t, m, testIdentity())
	identity, err := m.RequireAuth(httptest.NewRecorder(), authedReq)
	if err != nil || identity == nil {
		t.Errorf("expected identity for authenticated request, got %v / %v", identity, err)
	}
}

func TestRequireRole(t *testing.T) {
	m := newTestManager()

	adminIdentity := testIdentity()
	adminIdentity.Role = models.RoleAdmin
	_, adminReq := login(t, m, adminIdentity)

	if _, err := m.RequireRole(httptest.NewRecorder(), adminReq, models.RoleAdmin); err != nil {
		t.Errorf("admin must pass admin guard: %v", err)
	}

	_, userReq := login(t, m, testIdentity())
	_, err := m.RequireRole(httptest.NewRecorder(), userReq, models.RoleAdmin)
	apiErr := apierrors.AsAPIError(err)
	if err == nil || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for user hitting admin guard, got %v", err)
	}

	anonReq := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if _, err := m.RequireRole(httptest.NewRecorder(), anonReq, models.RoleAdmin); err != apierrors.ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized for anonymous request, got %v", err)
	}
}

func TestClear(t *testing.T) {
	m := newTestManager()
	_, req := login(t, m, testIdentity())

	rec := httptest.NewRecorder()
	if err := m.Clear(rec, req); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	req2 := requestWithCookies(t, rec)
	got, err := m.Current(httptest.NewRecorder(), req2)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got != nil {
		t.Error("expected cleared session to be anonymous")
	}
}

func TestLoginRotatesCSRFToken(t *testing.T) {
	m := newTestManager()

	first, _ := login(t, m, testIdentity())
	second, _ := login(t, m, testIdentity())
	if first.CSRFToken == second.CSRFToken {
		t.Error("each login must generate a fresh CSRF token")
	}
}

func TestInfoNeverExposesCSRFToken(t *testing.T) {
	m := newTestManager()
	_, req := login(t, m, testIdentity())

	info := m.Info(req)
	if info.Status != "authenticated" {
		t.Fatalf("unexpected status: %s", info.Status)
	}
	if info.Username != "alice" {
		t.Errorf("unexpected username: %s", info.Username)
	}
	hasCSRFKey := false
	for _, k := range info.SessionKeys {
		if k == "csrf_token" {
			hasCSRFKey = true
		}
	}
	// The key name may be listed; the value never is.
	if !hasCSRFKey {
		t.Error("expected csrf_token key to be listed in session keys")
	}
}
