// Package portal implements the client-side session lifecycle shared by the
// admin, team and client portals.
//
// One generic Manager is parameterized by a RoleConfig instead of three
// near-identical per-role managers: the role contributes storage key
// prefixes, endpoint paths and capability semantics, nothing else.
package portal

import (
	"time"

	"bluepeak/internal/identity"
)

// RoleConfig parameterizes a Manager for one portal role.
type RoleConfig struct {
	// Role names the portal: "admin", "client" or "team".
	Role string

	// StoragePrefix namespaces the durable keys ("<prefix>_token",
	// "<prefix>_user") so the three role sessions never collide.
	StoragePrefix string

	// Endpoint paths on the origin.
	LoginPath  string
	SignupPath string // empty when the role has no self-signup
	MePath     string

	// CaptchaRequired marks roles whose login must carry a
	// bot-verification token.
	CaptchaRequired bool

	// SuperRole, when set, marks the profile role that implicitly holds
	// every permission (admin portal only).
	SuperRole identity.Role

	// IdleTimeout is the inactivity window before automatic logout.
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is the inactivity window shared by all portals.
const DefaultIdleTimeout = 5 * time.Minute

// AdminRole is the back-office portal configuration.
func AdminRole() RoleConfig {
	return RoleConfig{
		Role:            "admin",
		StoragePrefix:   "admin",
		LoginPath:       "/api/admin/login",
		MePath:          "/api/admin/me",
		CaptchaRequired: true,
		SuperRole:       identity.RoleSuperAdmin,
		IdleTimeout:     DefaultIdleTimeout,
	}
}

// ClientRole is the customer portal configuration.
func ClientRole() RoleConfig {
	return RoleConfig{
		Role:            "client",
		StoragePrefix:   "client",
		LoginPath:       "/api/client/login",
		SignupPath:      "/api/client/signup",
		MePath:          "/api/client/me",
		CaptchaRequired: true,
		IdleTimeout:     DefaultIdleTimeout,
	}
}

// TeamRole is the production team portal configuration.
func TeamRole() RoleConfig {
	return RoleConfig{
		Role:          "team",
		StoragePrefix: "team",
		LoginPath:     "/api/team-portal/login",
		MePath:        "/api/team-portal/me",
		IdleTimeout:   DefaultIdleTimeout,
	}
}

func (c RoleConfig) tokenKey() string { return c.StoragePrefix + "_token" }
func (c RoleConfig) userKey() string  { return c.StoragePrefix + "_user" }
