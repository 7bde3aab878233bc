package schema

import "slices"

// Actor is the authenticated identity on whose behalf an execution runs.
// It is resolved by the caller (HTTP layer, MCP tool handler) and passed
// into the façade; the core never loads it implicitly.
type Actor struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name,omitempty"`
	CenterID    *int64   `json:"center_id,omitempty"` // nil for global admins
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// HasPermission reports whether the actor carries the given grant.
// Superadmins implicitly hold every permission.
func (a Actor) HasPermission(perm string) bool {
	if a.HasRole(RoleSuperadmin) {
		return true
	}
	return slices.Contains(a.Permissions, perm)
}
