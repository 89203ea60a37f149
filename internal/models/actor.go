package models

import "github.com/google/uuid"

// Role is the privilege level of an authenticated caller.
type Role string

const (
	// RoleSuperAdmin is a platform operator with cross-tenant access.
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin administers a single organization.
	RoleAdmin Role = "admin"
	// RoleMember is a regular organization user, typically a desktop device.
	RoleMember Role = "member"
)

var roleRank = map[Role]int{
	RoleMember:     1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[r] > 0
}

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	OrgID  uuid.UUID `json:"org_id"`
	Role   Role      `json:"role"`
}

// IsSuperAdmin reports whether the actor has cross-tenant access.
func (a Actor) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}

// CanAccessOrg reports whether the actor may act on the given organization.
func (a Actor) CanAccessOrg(orgID uuid.UUID) bool {
	return a.IsSuperAdmin() || a.OrgID == orgID
}
