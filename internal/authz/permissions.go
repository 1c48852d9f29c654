// Package authz decides whether a resolved account may perform an action.
// Role-to-permission mapping is compiled into an immutable table; ownership
// of proxied resources is delegated to the content service.
package authz

import "sort"

// Permission identifies an atomic capability as "resource:action".
type Permission string

const (
	PermAuthLogin          Permission = "auth:login"
	PermAuthLogout         Permission = "auth:logout"
	PermAuthRefresh        Permission = "auth:refresh"
	PermAuthChangePassword Permission = "auth:change_password"

	PermAccountRead   Permission = "account:read"
	PermAccountCreate Permission = "account:create"
	PermAccountUpdate Permission = "account:update"
	PermAccountDelete Permission = "account:delete"

	PermRoleRead   Permission = "role:read"
	PermRoleCreate Permission = "role:create"
	PermRoleUpdate Permission = "role:update"
	PermRoleDelete Permission = "role:delete"

	PermGameRead   Permission = "game:read"
	PermGameCreate Permission = "game:create"
	PermGameUpdate Permission = "game:update"
	PermGameDelete Permission = "game:delete"

	PermStudioRead   Permission = "studio:read"
	PermStudioCreate Permission = "studio:create"
	PermStudioUpdate Permission = "studio:update"
	PermStudioDelete Permission = "studio:delete"
)

// Role names. The catalog is fixed; roles are seeded at startup and never
// created per-request.
const (
	RoleDeveloper  = "developer"
	RoleEditor     = "editor"
	RoleSuperadmin = "superadmin"
)

var authPerms = []Permission{
	PermAuthLogin, PermAuthLogout, PermAuthRefresh, PermAuthChangePassword,
}

var gameCRUD = []Permission{
	PermGameRead, PermGameCreate, PermGameUpdate, PermGameDelete,
}

var studioCRUD = []Permission{
	PermStudioRead, PermStudioCreate, PermStudioUpdate, PermStudioDelete,
}

// PermissionTable maps role names to permission sets. Instances are built
// once and never mutated afterwards; construct a fresh table per test when
// overrides are needed.
type PermissionTable struct {
	roles map[string]map[Permission]struct{}
}

// NewPermissionTable builds an immutable table from the given grants. The
// input map is copied; later mutation of it does not affect the table.
func NewPermissionTable(grants map[string][]Permission) *PermissionTable {
	roles := make(map[string]map[Permission]struct{}, len(grants))
	for role, perms := range grants {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		roles[role] = set
	}
	return &PermissionTable{roles: roles}
}

// DefaultPermissions returns the production role grants. Developers hold
// authentication plus game and studio CRUD, with ownership enforced on
// mutations by the engine. Editors hold game CRUD but only studio reads.
// Superadmins hold everything including account and role administration.
func DefaultPermissions() *PermissionTable {
	developer := concat(authPerms, gameCRUD, studioCRUD)
	editor := concat(authPerms, gameCRUD, []Permission{PermStudioRead})
	superadmin := concat(authPerms, gameCRUD, studioCRUD, []Permission{
		PermAccountRead, PermAccountCreate, PermAccountUpdate, PermAccountDelete,
		PermRoleRead, PermRoleCreate, PermRoleUpdate, PermRoleDelete,
	})
	return NewPermissionTable(map[string][]Permission{
		RoleDeveloper:  developer,
		RoleEditor:     editor,
		RoleSuperadmin: superadmin,
	})
}

// RegisterableRoles lists role names self-registration may claim.
func RegisterableRoles() []string {
	return []string{RoleDeveloper, RoleEditor}
}

// Grants returns the sorted permission names held by a role, or nil for an
// unknown role.
func (t *PermissionTable) Grants(role string) []string {
	set, ok := t.roles[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Roles returns the sorted role names present in the table.
func (t *PermissionTable) Roles() []string {
	out := make([]string, 0, len(t.roles))
	for role := range t.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func (t *PermissionTable) allows(role string, p Permission) bool {
	set, ok := t.roles[role]
	if !ok {
		return false
	}
	_, ok = set[p]
	return ok
}

func concat(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
