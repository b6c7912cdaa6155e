package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bluepeak/internal/identity"
	"bluepeak/internal/token"
)

func newTestHandler(t *testing.T, cfg Config, opts ...HandlerOption) (*Handler, *identity.MemoryStore, *token.Service) {
	t.Helper()

	users := identity.NewMemoryStore()
	tokens := token.NewService(token.NewMemoryStore(), time.Hour)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, cfg, users, tokens, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, users, tokens
}

func seedUser(t *testing.T, users *identity.MemoryStore, role identity.Role, email, password string) identity.User {
	t.Helper()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Role:        role,
		Email:       email,
		DisplayName: "Test Person",
		Password:    password,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestLoginSuccessReturnsTokenAndUser(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	rec := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	resp := decodeBody[authResponse](t, rec)
	if resp.Token == "" {
		t.Fatal("response token is empty")
	}
	if resp.User.Email != "amira@example.com" || resp.User.Role != identity.RoleClient {
		t.Fatalf("unexpected user payload: %+v", resp.User)
	}
	if resp.User.PasswordHash != "" {
		t.Fatal("password hash leaked into response")
	}
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	wrong := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "nope"})
	unknown := postJSON(t, mux, "/api/client/login", loginRequest{Email: "ghost@example.com", Password: "nope"})

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Error != "invalid email or password" {
			t.Fatalf("error = %q, want the shared failure message", resp.Error)
		}
	}
}

func TestLoginRejectsWrongPortal(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	// Valid client credentials must not open an admin session.
	rec := postJSON(t, mux, "/api/admin/login", loginRequest{Email: "amira@example.com", Password: "correct horse"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSuperAdminLogsIntoAdminPortal(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleSuperAdmin, "root@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	rec := postJSON(t, mux, "/api/admin/login", loginRequest{Email: "root@example.com", Password: "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimitsByIP(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 3, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	for i := 0; i < 3; i++ {
		rec := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "nope"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, rec.Code)
		}
	}

	rec := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "correct horse"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after repeated failures", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 response is missing Retry-After")
	}
}

func TestSignupCreatesClientAndStartsSession(t *testing.T) {
	h, _, tokens := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})

	mux := http.NewServeMux()
	h.Register(mux)

	rec := postJSON(t, mux, "/api/client/signup", signupRequest{
		Name:     "New Client",
		Email:    "new@example.com",
		Password: "a strong one",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	resp := decodeBody[authResponse](t, rec)
	if resp.User.Role != identity.RoleClient {
		t.Fatalf("role = %q, want client", resp.User.Role)
	}

	grant, err := tokens.Validate(context.Background(), time.Now().UTC(), resp.Token)
	if err != nil {
		t.Fatalf("signup token does not validate: %v", err)
	}
	if grant.UserID != resp.User.ID {
		t.Fatalf("grant user = %q, want %q", grant.UserID, resp.User.ID)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	h, users, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	seedUser(t, users, identity.RoleClient, "taken@example.com", "whatever")

	mux := http.NewServeMux()
	h.Register(mux)

	rec := postJSON(t, mux, "/api/client/signup", signupRequest{
		Name:     "Imposter",
		Email:    "taken@example.com",
		Password: "whatever",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Error == "" {
		t.Fatal("conflict response has empty error message")
	}
}

func TestMeReturnsProfileForValidBearer(t *testing.T) {
	h, users, tokens := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	u := seedUser(t, users, identity.RoleTeam, "dev@example.com", "correct horse")

	plain, _, err := tokens.Issue(context.Background(), time.Now().UTC(), u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/team-portal/me", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	profile := decodeBody[identity.User](t, rec)
	if profile.ID != u.ID || profile.Email != u.Email {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestMeRejectsMissingRevokedAndCrossPortalTokens(t *testing.T) {
	h, users, tokens := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})
	u := seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")

	plain, _, err := tokens.Issue(context.Background(), time.Now().UTC(), u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	get := func(path, bearer string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := get("/api/client/me", ""); code != http.StatusUnauthorized {
		t.Fatalf("no bearer: status = %d, want 401", code)
	}
	// A client token must not authenticate against the admin portal.
	if code := get("/api/admin/me", plain); code != http.StatusUnauthorized {
		t.Fatalf("cross portal: status = %d, want 401", code)
	}
	if err := tokens.Revoke(context.Background(), plain); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if code := get("/api/client/me", plain); code != http.StatusUnauthorized {
		t.Fatalf("revoked: status = %d, want 401", code)
	}
}

func TestCaptchaEnforcedOnAdminAndClientOnly(t *testing.T) {
	h, users, _ := newTestHandler(t,
		Config{MaxBodyBytes: 1 << 20, RequireCaptcha: true, LoginIPMax: 20, LoginIPWindow: time.Minute},
		WithCaptchaVerifier(stubCaptcha{accept: "good-token"}),
	)
	seedUser(t, users, identity.RoleClient, "amira@example.com", "correct horse")
	seedUser(t, users, identity.RoleTeam, "dev@example.com", "correct horse")

	mux := http.NewServeMux()
	h.Register(mux)

	missing := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "correct horse"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("missing captcha: status = %d, want 400", missing.Code)
	}

	bad := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "correct horse", CaptchaToken: "bad"})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad captcha: status = %d, want 400", bad.Code)
	}

	good := postJSON(t, mux, "/api/client/login", loginRequest{Email: "amira@example.com", Password: "correct horse", CaptchaToken: "good-token"})
	if good.Code != http.StatusOK {
		t.Fatalf("good captcha: status = %d, want 200 (%s)", good.Code, good.Body.String())
	}

	// Team portal is exempt even with captcha on.
	team := postJSON(t, mux, "/api/team-portal/login", loginRequest{Email: "dev@example.com", Password: "correct horse"})
	if team.Code != http.StatusOK {
		t.Fatalf("team login: status = %d, want 200 (%s)", team.Code, team.Body.String())
	}
}

func TestLoginRejectsNonPOST(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{MaxBodyBytes: 1 << 20, LoginIPMax: 20, LoginIPWindow: time.Minute})

	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/login", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestLoginRejectsOversizedBody(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{MaxBodyBytes: 64, LoginIPMax: 20, LoginIPWindow: time.Minute})

	mux := http.NewServeMux()
	h.Register(mux)

	big := bytes.Repeat([]byte("a"), 256)
	rec := postJSON(t, mux, "/api/client/login", loginRequest{Email: "x@example.com", Password: string(big)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type stubCaptcha struct{ accept string }

func (s stubCaptcha) Verify(_ context.Context, tok string, _ net.IP) error {
	if tok == s.accept {
		return nil
	}
	return ErrCaptchaInvalid
}
