package authz

import "github.com/aussie-gateway/aussie/internal/domain"

// RoleGate declares the roles required to reach a gateway-internal
// endpoint (e.g. the admin API). The request proceeds iff the identity
// holds at least one of RequiredRoles, per spec.md §4.4.
type RoleGate struct {
	RequiredRoles []string
}

// Allow reports whether identity satisfies the gate.
func (g RoleGate) Allow(identity domain.Identity) bool {
	if len(g.RequiredRoles) == 0 {
		return true
	}
	return identity.HasAnyRole(g.RequiredRoles)
}

// PermissionGate resolves a ServicePermissionPolicy for an operation name,
// falling back to an authRequired check when the operation has no explicit
// policy entry (spec.md §4.4 / §9 Open Question, resolved as specified).
type PermissionGate struct{}

// Allow reports whether identity may perform operation under policy. When
// policy has no entry for operation, any authenticated identity passes
// (authRequired fallback). Whether the request is authenticated comes from
// the caller through the authenticated argument; identity is not inspected
// for that decision.
func (PermissionGate) Allow(policy *domain.ServicePermissionPolicy, operation string, identity domain.Identity, authenticated bool) bool {
	perm, ok := domain.ResolveOperationPermission(policy, operation)
	if !ok {
		return authenticated
	}
	return identity.HasAnyPermission(perm.AnyOfPermissions)
}
