package identity

import (
	"strings"
	"time"
)

// Role identifies which portal a user belongs to.
type Role string

const (
	// RoleAdmin is a staff member of the agency back office.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin is an admin that implicitly holds every permission.
	RoleSuperAdmin Role = "super_admin"
	// RoleClient is an external customer of the agency.
	RoleClient Role = "client"
	// RoleTeam is a production team member with per-team scoping.
	RoleTeam Role = "team"
)

// AccessLevel scopes a team user to either all teams or an explicit list.
type AccessLevel string

const (
	// AccessFull grants a team user access to every team.
	AccessFull AccessLevel = "full"
	// AccessScoped restricts a team user to the teams listed on the profile.
	AccessScoped AccessLevel = "scoped"
)

// User is the profile object returned by the /me endpoints and persisted
// by the portal session managers.
//
// Role-specific fields are sparse: Permissions is meaningful for admin
// users, AccessLevel/TeamIDs for team users. They serialize as omitted
// when empty so client portals only see the attributes of their role.
type User struct {
	ID           string      `json:"id"`
	Role         Role        `json:"role"`
	Email        string      `json:"email"`
	DisplayName  string      `json:"displayName"`
	Permissions  []string    `json:"permissions,omitempty"`
	AccessLevel  AccessLevel `json:"accessLevel,omitempty"`
	TeamIDs      []string    `json:"teamIds,omitempty"`
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// PortalRole reports whether the user's role is allowed to sign in to the
// portal identified by portal ("admin", "client" or "team").
func (u User) PortalRole(portal string) bool {
	switch portal {
	case "admin":
		return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
	case "client":
		return u.Role == RoleClient
	case "team":
		return u.Role == RoleTeam
	default:
		return false
	}
}

// CreateUserInput carries the fields needed to provision a user.
type CreateUserInput struct {
	Role        Role
	Email       string
	DisplayName string
	Password    string
	Permissions []string
	AccessLevel AccessLevel
	TeamIDs     []string
	Now         time.Time
}

// NormalizeEmail lowercases and trims an email address.
// Uniqueness checks always run against the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
