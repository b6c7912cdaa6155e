package identity

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestHashPassword_VerifyRoundtrip(t *testing.T) {
	p := DefaultArgon2idParams()
	// Keep the test fast; still exercises the full PHC path.
	p.MemoryKiB = 8 * 1024
	p.Iterations = 1

	hash, err := HashPassword("correct horse battery", p)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}

	ok, err := VerifyPassword("correct horse battery", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}

	ok, err = VerifyPassword("wrong password!", hash)
	if err != nil {
		t.Fatalf("VerifyPassword mismatch: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestHashPassword_RejectsShort(t *testing.T) {
	if _, err := HashPassword("short", DefaultArgon2idParams()); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		"$argon2id$v=19$m=0,t=0,p=0$$",
	} {
		if _, err := VerifyPassword("whatever-password", bad); err == nil {
			t.Fatalf("expected ErrInvalidHash for %q", bad)
		}
	}
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Role:        RoleAdmin,
		Email:       "  Ops@Bluepeak.Agency ",
		DisplayName: "Ops",
		Password:    "ops-password-1",
		Permissions: []string{"manage_projects"},
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "ops@bluepeak.agency" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}

	got, err := s.GetByEmail(ctx, "OPS@bluepeak.agency")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("lookup mismatch: %q vs %q", got.ID, u.ID)
	}

	if _, err := s.GetByID(ctx, "01AAAAAAAAAAAAAAAAAAAAAAAA"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_EmailConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := CreateUserInput{Role: RoleClient, Email: "client@example.com", Password: "client-pass-1"}
	if _, err := s.CreateUser(ctx, in); err != nil {
		t.Fatalf("first CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, in); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUser_PortalRole(t *testing.T) {
	cases := []struct {
		role   Role
		portal string
		want   bool
	}{
		{RoleAdmin, "admin", true},
		{RoleSuperAdmin, "admin", true},
		{RoleClient, "admin", false},
		{RoleClient, "client", true},
		{RoleTeam, "team", true},
		{RoleTeam, "client", false},
		{RoleAdmin, "unknown", false},
	}
	for _, c := range cases {
		if got := (User{Role: c.role}).PortalRole(c.portal); got != c.want {
			t.Fatalf("PortalRole(%s, %s) = %v, want %v", c.role, c.portal, got, c.want)
		}
	}
}
