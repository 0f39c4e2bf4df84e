package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boffins/usermgmt/internal/middleware"
	"github.com/boffins/usermgmt/internal/models"
	"github.com/boffins/usermgmt/internal/pkg/ulid"
	"github.com/boffins/usermgmt/internal/service"
	"github.com/boffins/usermgmt/internal/session"
	"github.com/boffins/usermgmt/internal/token"
)

// Mock repositories backing real services.

type mockUserRepo struct {
	users  map[uuid.UUID]*models.User
	byName map[string]*models.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:  make(map[uuid.UUID]*models.User),
		byName: make(map[string]*models.User),
	}
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	m.users[user.ID] = user
	m.byName[user.Username] = user
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.byName[username], nil
}

func (m *mockUserRepo) List(ctx context.Context) ([]*models.User, error) {
	users := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	if user, ok := m.users[id]; ok {
		user.Role = role
		return nil
	}
	return pgx.ErrNoRows
}

type mockProfileRepo struct {
	byUser map[uuid.UUID]*models.Profile
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{byUser: make(map[uuid.UUID]*models.Profile)}
}

func (m *mockProfileRepo) Create(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		profile.ID = ulid.New()
	}
	m.byUser[profile.UserID] = profile
	return nil
}

func (m *mockProfileRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return m.byUser[userID], nil
}

func (m *mockProfileRepo) List(ctx context.Context) ([]*models.Profile, error) {
	profiles := make([]*models.Profile, 0, len(m.byUser))
	for _, p := range m.byUser {
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (m *mockProfileRepo) Update(ctx context.Context, profile *models.Profile) error {
	existing, ok := m.byUser[profile.UserID]
	if !ok {
		return pgx.ErrNoRows
	}
	profile.ID = existing.ID
	m.byUser[profile.UserID] = profile
	return nil
}

func (m *mockProfileRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	if _, ok := m.byUser[userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.byUser, userID)
	return nil
}

// envelope mirrors the response wrapper for decoding in assertions.
type envelope struct {
	Data  map[string]any `json:"data"`
	Error map[string]any `json:"error"`
}

// newTestServer wires the handlers the way the server entry point does,
// minus OAuth and the Redis-backed limiter.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	userRepo := newMockUserRepo()
	profileRepo := newMockProfileRepo()

	authService := service.NewAuthService(userRepo)
	profileService := service.NewProfileService(profileRepo)
	sessions := session.NewManager("test-secret", "auth_session", 24*time.Hour)
	issuer := token.NewIssuer("test-jwt-secret", 30*time.Minute)

	authHandler := NewAuthHandler(authService, sessions, issuer)
	profileHandler := NewProfileHandler(profileService, authService, sessions)

	r := chi.NewRouter()
	r.Post("/signup", authHandler.Signup)
	r.Post("/login", authHandler.Login)
	r.Post("/logout", authHandler.Logout)
	r.Get("/dashboard", authHandler.Dashboard)
	r.Get("/admin", authHandler.Admin)
	r.Get("/users", authHandler.Users)
	r.Get("/session/info", authHandler.SessionInfo)
	profileHandler.SessionRoutes(r)

	r.Post("/api/login", authHandler.APILogin)
	r.With(
		middleware.RequireToken(issuer),
		middleware.RequireTokenRole(models.RoleAdmin),
	).Get("/api/users", authHandler.APIUsers)
	r.Route("/api/profile", func(r chi.Router) {
		r.Use(middleware.RequireToken(issuer))
		r.Mount("/", profileHandler.TokenRoutes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) (*http.Response, envelope) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func getJSON(t *testing.T, client *http.Client, url string) (*http.Response, envelope) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	// Redirect responses carry no JSON body.
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return env
}

func signupAndLogin(t *testing.T, client *http.Client, baseURL, username, password, role string) envelope {
	t.Helper()
	resp, _ := postJSON(t, client, baseURL+"/signup", map[string]string{
		"username": username, "password": password, "role": role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", resp.StatusCode)
	}
	resp, env := postJSON(t, client, baseURL+"/login", map[string]string{
		"username": username, "password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	return env
}

func TestSignupEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, env := postJSON(t, client, srv.URL+"/signup", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if env.Data["username"] != "alice" || env.Data["role"] != "user" {
		t.Errorf("unexpected signup response: %+v", env.Data)
	}

	resp, _ = postJSON(t, client, srv.URL+"/signup", map[string]string{
		"username": "alice", "password": "other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", resp.StatusCode)
	}
}

func TestLoginAndDashboard(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	env := signupAndLogin(t, client, srv.URL, "alice", "s3cret", "")
	if env.Data["csrf_token"] == "" || env.Data["csrf_token"] == nil {
		t.Error("login response must include the CSRF token")
	}

	resp, env := getJSON(t, client, srv.URL+"/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["username"] != "alice" {
		t.Errorf("unexpected dashboard identity: %+v", env.Data)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, env := postJSON(t, client, srv.URL+"/login", map[string]string{
		"username": "ghost", "password": "whatever",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if env.Error["message"] != "Invalid credentials" {
		t.Errorf("unexpected error message: %+v", env.Error)
	}
}

func TestDashboardRedirectsAnonymousBrowser(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, err := client.Get(srv.URL + "/dashboard")
	if err != nil {
		t.Fatalf("GET /dashboard: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/?error=auth_required" {
		t.Errorf("unexpected redirect target: %s", loc)
	}
}

func TestAdminGuard(t *testing.T) {
	srv := newTestServer(t)

	userClient := newClient(t)
	signupAndLogin(t, userClient, srv.URL, "bob", "s3cret", "")
	resp, _ := getJSON(t, userClient, srv.URL+"/admin")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for user role, got %d", resp.StatusCode)
	}

	adminClient := newClient(t)
	signupAndLogin(t, adminClient, srv.URL, "root", "s3cret", "admin")
	resp, env := getJSON(t, adminClient, srv.URL+"/admin")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for admin role, got %d", resp.StatusCode)
	}
	if env.Data["username"] != "root" {
		t.Errorf("unexpected admin response: %+v", env.Data)
	}

	resp, env = getJSON(t, adminClient, srv.URL+"/users")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /users, got %d", resp.StatusCode)
	}
	if env.Data["total"].(float64) != 2 {
		t.Errorf("expected 2 users, got %v", env.Data["total"])
	}
}

func TestLogoutEndsSession(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	signupAndLogin(t, client, srv.URL, "alice", "s3cret", "")

	resp, _ := postJSON(t, client, srv.URL+"/logout", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", resp.StatusCode)
	}

	resp, err := client.Get(srv.URL + "/dashboard")
	if err != nil {
		t.Fatalf("GET /dashboard: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("expected redirect after logout, got %d", resp.StatusCode)
	}
}

func TestSessionProfileFlow(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	signupAndLogin(t, client, srv.URL, "alice", "s3cret", "")

	resp, env := postJSON(t, client, srv.URL+"/profile", map[string]string{
		"first_name": "Alice", "bio": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%+v)", resp.StatusCode, env.Error)
	}

	resp, _ = postJSON(t, client, srv.URL+"/profile", map[string]string{"bio": "again"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for second profile, got %d", resp.StatusCode)
	}

	resp, env = getJSON(t, client, srv.URL+"/profile/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["first_name"] != "Alice" {
		t.Errorf("unexpected profile: %+v", env.Data)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/profile/me", nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	delResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("DELETE /profile/me: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d", delResp.StatusCode)
	}

	resp, _ = getJSON(t, client, srv.URL+"/profile/me")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestBearerTokenProfileFlow(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, _ := postJSON(t, client, srv.URL+"/signup", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", resp.StatusCode)
	}

	resp, env := postJSON(t, client, srv.URL+"/api/login", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("api login: expected 200, got %d", resp.StatusCode)
	}
	if env.Data["token_type"] != "bearer" {
		t.Errorf("unexpected token type: %v", env.Data["token_type"])
	}
	accessToken, _ := env.Data["access_token"].(string)
	if accessToken == "" {
		t.Fatal("expected access token")
	}

	do := func(method, path string, body any) (*http.Response, envelope) {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
		req, err := http.NewRequest(method, srv.URL+path, &buf)
		if err != nil {
			t.Fatalf("build %s %s: %v", method, path, err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp, decodeEnvelope(t, resp)
	}

	resp, _ = do(http.MethodPost, "/api/profile", map[string]string{"first_name": "Alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, env = do(http.MethodGet, "/api/profile/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["first_name"] != "Alice" {
		t.Errorf("unexpected profile: %+v", env.Data)
	}

	resp, env = do(http.MethodPut, "/api/profile/me", map[string]string{"first_name": "Alicia"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from update, got %d", resp.StatusCode)
	}
	if env.Data["first_name"] != "Alicia" {
		t.Errorf("update not applied: %+v", env.Data)
	}
}

func TestLoginDerivesEmailFromUsername(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	signupAndLogin(t, client, srv.URL, "alice@example.com", "s3cret", "")

	resp, env := getJSON(t, client, srv.URL+"/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["email"] != "alice@example.com" {
		t.Errorf("expected email derived from username, got %v", env.Data["email"])
	}

	// Plain usernames carry no email.
	plainClient := newClient(t)
	signupAndLogin(t, plainClient, srv.URL, "bob", "s3cret", "")
	resp, env = getJSON(t, plainClient, srv.URL+"/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, present := env.Data["email"]; present {
		t.Errorf("expected no email for plain username, got %v", env.Data["email"])
	}
}

func TestBearerUsersAdminOnly(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	apiToken := func(username, password, role string) string {
		resp, _ := postJSON(t, client, srv.URL+"/signup", map[string]string{
			"username": username, "password": password, "role": role,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("signup: expected 201, got %d", resp.StatusCode)
		}
		resp, env := postJSON(t, client, srv.URL+"/api/login", map[string]string{
			"username": username, "password": password,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("api login: expected 200, got %d", resp.StatusCode)
		}
		token, _ := env.Data["access_token"].(string)
		if token == "" {
			t.Fatal("expected access token")
		}
		return token
	}

	get := func(token string) (*http.Response, envelope) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("GET /api/users: %v", err)
		}
		return resp, decodeEnvelope(t, resp)
	}

	userToken := apiToken("bob", "s3cret", "")
	resp, _ := get(userToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for user-role token, got %d", resp.StatusCode)
	}

	adminToken := apiToken("root", "s3cret", "admin")
	resp, env := get(adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin token, got %d", resp.StatusCode)
	}
	if env.Data["total"].(float64) != 2 {
		t.Errorf("expected 2 users, got %v", env.Data["total"])
	}
}

func TestBearerRoutesRejectBadTokens(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	// No token at all: API routes answer JSON, never a redirect.
	resp, env := getJSON(t, client, srv.URL+"/api/profile/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if env.Error == nil {
		t.Error("expected JSON error body on API path")
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/profile/me", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("GET with bad token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestSessionInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, env := getJSON(t, client, srv.URL+"/session/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["status"] != "not_authenticated" {
		t.Errorf("unexpected anonymous status: %+v", env.Data)
	}

	signupAndLogin(t, client, srv.URL, "alice", "s3cret", "")
	resp, env = getJSON(t, client, srv.URL+"/session/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.Data["status"] != "authenticated" || env.Data["username"] != "alice" {
		t.Errorf("unexpected session info: %+v", env.Data)
	}
}
