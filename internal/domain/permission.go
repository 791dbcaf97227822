package domain

import "strings"

// WildcardPermission matches every operation and maps to the full admin
// role set.
const WildcardPermission = "*"

// AdminRole is the role granted by the wildcard permission.
const AdminRole = "admin"

// Identity is the authenticated principal for a request (spec.md §4.3).
// Identities are immutable: callers receive a value, not a pointer into
// mutable state.
type Identity struct {
	ID          string
	Name        string
	Roles       []string
	Permissions []string
	Attributes  map[string]any
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (id Identity) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if id.HasRole(r) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the identity's expanded permission set
// satisfies perm, honoring the wildcard.
func (id Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == WildcardPermission || p == perm {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the identity satisfies at least one of
// perms.
func (id Identity) HasAnyPermission(perms []string) bool {
	for _, p := range perms {
		if id.HasPermission(p) {
			return true
		}
	}
	return false
}

// PermissionToRole applies the deterministic permission->role mapping from
// spec.md §3: "a:b" -> "a-b", "a.b.c" -> unchanged, "*" -> AdminRole.
func PermissionToRole(permission string) string {
	if permission == WildcardPermission {
		return AdminRole
	}
	if strings.Contains(permission, ":") {
		return strings.ReplaceAll(permission, ":", "-")
	}
	return permission
}

// ExpandRoles maps a permission set to its derived role set, deduplicated.
func ExpandRoles(permissions []string) []string {
	seen := map[string]struct{}{}
	var roles []string
	for _, p := range permissions {
		r := PermissionToRole(p)
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}
	return roles
}

// ResolveOperationPermission looks up the permissions required for an
// operation under a policy. ok is false when the operation has no explicit
// entry, signaling callers to fall back to the endpoint's AuthRequired
// check (spec.md §4.4, §9 Open Question resolution).
func ResolveOperationPermission(policy *ServicePermissionPolicy, operation string) (OperationPermission, bool) {
	if policy == nil || policy.Operations == nil {
		return OperationPermission{}, false
	}
	op, ok := policy.Operations[operation]
	return op, ok
}
