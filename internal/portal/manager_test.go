package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bluepeak/internal/identity"
)

func testRole(idle time.Duration) RoleConfig {
	cfg := ClientRole()
	cfg.CaptchaRequired = false
	if idle > 0 {
		cfg.IdleTimeout = idle
	}
	return cfg
}

func adminUser() identity.User {
	return identity.User{
		ID:          "01HADMIN00000000000000000A",
		Role:        identity.RoleAdmin,
		Email:       "ops@bluepeak.agency",
		DisplayName: "Ops",
		Permissions: []string{"manage_projects"},
	}
}

// authServer serves a login + me pair for one canned user.
func authServer(t *testing.T, tok string, u identity.User) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/client/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "good-password-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid email or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": tok, "user": u})
	})
	mux.HandleFunc("GET /api/client/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+tok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(u)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_LoginSuccessPersistsTokenAndProfile(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()

	m, err := NewManager(testRole(0), srv.URL, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.State() != StateAnonymous {
		t.Fatalf("fresh manager state = %v", m.State())
	}

	if err := m.Login(context.Background(), Credentials{Email: u.Email, Password: "good-password-1"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", m.State())
	}

	if tok, ok, _ := store.Get("client_token"); !ok || tok != "tok-1" {
		t.Fatalf("token not persisted: %q %v", tok, ok)
	}
	if raw, ok, _ := store.Get("client_user"); !ok || !strings.Contains(raw, u.ID) {
		t.Fatalf("profile not persisted: %q", raw)
	}
}

func TestManager_LoginFailureLeavesStateUntouched(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()

	m, _ := NewManager(testRole(0), srv.URL, store)
	if err := m.Login(context.Background(), Credentials{Email: u.Email, Password: "good-password-1"}); err != nil {
		t.Fatalf("first login: %v", err)
	}

	err := m.Login(context.Background(), Credentials{Email: u.Email, Password: "wrong"})
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Reason != "invalid email or password" {
		t.Fatalf("expected server-supplied reason, got %v", err)
	}

	// Prior session is intact.
	if m.State() != StateAuthenticated || m.Token() != "tok-1" {
		t.Fatalf("failed login disturbed prior session: %v %q", m.State(), m.Token())
	}
}

func TestManager_LoginConnectivityFailure(t *testing.T) {
	store := NewMemoryStorage()
	m, _ := NewManager(testRole(0), "http://127.0.0.1:1", store)

	err := m.Login(context.Background(), Credentials{Email: "a@b.c", Password: "good-password-1"})
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Status != 0 {
		t.Fatalf("expected connectivity AuthError, got %v", err)
	}
	if ae.Reason == "" {
		t.Fatalf("connectivity failure must carry a reason")
	}
	if m.State() != StateAnonymous {
		t.Fatalf("state = %v, want anonymous", m.State())
	}
}

func TestManager_LogoutIdempotent(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()

	m, _ := NewManager(testRole(0), srv.URL, store)
	_ = m.Login(context.Background(), Credentials{Email: u.Email, Password: "good-password-1"})

	m.Logout()
	if m.State() != StateAnonymous {
		t.Fatalf("state after logout = %v", m.State())
	}
	if _, ok, _ := store.Get("client_token"); ok {
		t.Fatalf("token survived logout")
	}

	// Logging out again is a no-op.
	m.Logout()
	if m.State() != StateAnonymous {
		t.Fatalf("second logout changed state")
	}
}

func TestManager_IdleTimeoutLogsOut(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()

	cfg := testRole(40 * time.Millisecond)
	m, _ := NewManager(cfg, srv.URL, store)
	_ = m.Login(context.Background(), Credentials{Email: u.Email, Password: "good-password-1"})

	// Interactions inside the window keep the session alive.
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		m.Interaction("mousemove")
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("active session expired early")
	}

	// Non-qualifying events must not reset the countdown.
	deadline := time.Now().Add(time.Second)
	for m.State() == StateAuthenticated && time.Now().Before(deadline) {
		m.Interaction("resize")
		time.Sleep(10 * time.Millisecond)
	}
	if m.State() != StateAnonymous {
		t.Fatalf("idle session did not expire")
	}
	if _, ok, _ := store.Get("client_token"); ok {
		t.Fatalf("durable storage not cleared on idle expiry")
	}
}

func TestManager_RestoreHydratesProfile(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()
	_ = store.Set("client_token", "tok-1")

	m, err := NewManager(testRole(0), srv.URL, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	waitFor(t, func() bool { return m.State() == StateAuthenticated })
	p := m.Profile()
	if p == nil || p.ID != u.ID {
		t.Fatalf("hydrated profile = %+v", p)
	}
	if raw, ok, _ := store.Get("client_user"); !ok || !strings.Contains(raw, u.ID) {
		t.Fatalf("hydrated profile not persisted: %q", raw)
	}
}

func TestManager_RestoreWithRevokedTokenClearsSession(t *testing.T) {
	u := adminUser()
	srv := authServer(t, "tok-1", u)
	store := NewMemoryStorage()
	_ = store.Set("client_token", "revoked-token")

	m, _ := NewManager(testRole(0), srv.URL, store)

	waitFor(t, func() bool { return m.State() == StateAnonymous })
	if _, ok, _ := store.Get("client_token"); ok {
		t.Fatalf("revoked token lingered in storage")
	}
	if _, ok, _ := store.Get("client_user"); ok {
		t.Fatalf("profile lingered in storage")
	}
}

func TestManager_LogoutDuringHydrationWins(t *testing.T) {
	u := adminUser()
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/client/me", func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(u)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := NewMemoryStorage()
	_ = store.Set("client_token", "tok-1")

	m, _ := NewManager(testRole(0), srv.URL, store)
	if m.State() != StateRestoring {
		t.Fatalf("state = %v, want restoring", m.State())
	}

	// Clear the session while the profile fetch is blocked, then let the
	// fetch complete; its result must be discarded.
	m.Logout()
	close(release)

	time.Sleep(50 * time.Millisecond)
	if m.State() != StateAnonymous || m.Profile() != nil {
		t.Fatalf("stale hydration wrote into a cleared session")
	}
	if _, ok, _ := store.Get("client_user"); ok {
		t.Fatalf("stale hydration persisted a profile")
	}
}

func TestManager_RolesAreIndependent(t *testing.T) {
	u := adminUser()
	store := NewMemoryStorage()

	mux := http.NewServeMux()
	for _, p := range []string{"/api/client/login", "/api/team-portal/login"} {
		mux.HandleFunc("POST "+p, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-" + p, "user": u})
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	teamCfg := TeamRole()
	client, _ := NewManager(testRole(0), srv.URL, store)
	team, _ := NewManager(teamCfg, srv.URL, store)

	if err := client.Login(context.Background(), Credentials{Email: u.Email, Password: "x-password"}); err != nil {
		t.Fatalf("client login: %v", err)
	}
	if err := team.Login(context.Background(), Credentials{Email: u.Email, Password: "x-password"}); err != nil {
		t.Fatalf("team login: %v", err)
	}

	client.Logout()

	if team.State() != StateAuthenticated {
		t.Fatalf("client logout disturbed team session")
	}
	if _, ok, _ := store.Get("team_token"); !ok {
		t.Fatalf("team token gone after client logout")
	}
	if _, ok, _ := store.Get("client_token"); ok {
		t.Fatalf("client token survived its own logout")
	}
}

func TestManager_HasPermission(t *testing.T) {
	cfg := AdminRole()
	cfg.CaptchaRequired = false
	store := NewMemoryStorage()

	m, _ := NewManager(cfg, "http://unused.invalid", store)
	if m.HasPermission("manage_projects") {
		t.Fatalf("absent profile must hold no permissions")
	}

	m.mu.Lock()
	m.profile = &identity.User{Role: identity.RoleAdmin, Permissions: []string{"manage_projects"}}
	m.mu.Unlock()
	if !m.HasPermission("manage_projects") {
		t.Fatalf("granted permission denied")
	}
	if m.HasPermission("manage_billing") {
		t.Fatalf("ungranted permission allowed")
	}

	m.mu.Lock()
	m.profile = &identity.User{Role: identity.RoleSuperAdmin}
	m.mu.Unlock()
	if !m.HasPermission("manage_billing") || !m.HasPermission("never_granted") {
		t.Fatalf("super admin must hold every permission")
	}
}

func TestManager_CanAccessTeam(t *testing.T) {
	store := NewMemoryStorage()
	m, _ := NewManager(TeamRole(), "http://unused.invalid", store)

	if m.CanAccessTeam("t1") {
		t.Fatalf("absent profile must access nothing")
	}

	m.mu.Lock()
	m.profile = &identity.User{Role: identity.RoleTeam, AccessLevel: identity.AccessScoped, TeamIDs: []string{"t1"}}
	m.mu.Unlock()
	if !m.CanAccessTeam("t1") || m.CanAccessTeam("t2") {
		t.Fatalf("scoped access wrong")
	}

	m.mu.Lock()
	m.profile = &identity.User{Role: identity.RoleTeam, AccessLevel: identity.AccessFull}
	m.mu.Unlock()
	if !m.CanAccessTeam("t2") {
		t.Fatalf("full access level must grant every team")
	}
}

func TestManager_CaptchaRequired(t *testing.T) {
	cfg := ClientRole() // captcha required
	store := NewMemoryStorage()
	m, _ := NewManager(cfg, "http://unused.invalid", store)

	err := m.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw-12345678"})
	var ae *AuthError
	if !errors.As(err, &ae) || !strings.Contains(ae.Reason, "verification") {
		t.Fatalf("expected captcha requirement, got %v", err)
	}
}

func TestFileStorage_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	if err := s.Set("admin_token", "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get("admin_token")
	if err != nil || !ok || v != "tok" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}

	if err := s.Delete("admin_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("admin_token"); ok {
		t.Fatalf("key survived delete")
	}
	// Deleting a missing key is quiet.
	if err := s.Delete("admin_token"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
