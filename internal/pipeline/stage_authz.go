package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/authz"
	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/problem"
)

// AuthorizationStage enforces the endpoint's authRequired flag and, when a
// ServicePermissionPolicy names an operation, the PermissionGate; it also
// applies RoleGate for gateway-internal surfaces that set RequiredRoles.
type AuthorizationStage struct {
	RoleGate       authz.RoleGate
	PermissionGate authz.PermissionGate
}

func (s AuthorizationStage) Name() string { return "authorization" }

func (s AuthorizationStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	authenticated := state.Identity != nil
	var identity domain.Identity
	if authenticated {
		identity = *state.Identity
	}

	if len(s.RoleGate.RequiredRoles) > 0 && !s.RoleGate.Allow(identity) {
		problem.Write(w, problem.Forbidden("identity lacks a required role"))
		return Abort()
	}

	authRequired, policy, operation := routeAuthRequirements(state.Route)
	if operation != "" {
		if !s.PermissionGate.Allow(policy, operation, identity, authenticated) {
			if !authenticated {
				problem.Write(w, problem.Unauthorized("authentication is required for this operation"))
			} else {
				problem.Write(w, problem.Forbidden("identity lacks the permission required for this operation"))
			}
			return Abort()
		}
		return Continue()
	}

	if authRequired && !authenticated {
		problem.Write(w, problem.Unauthorized("authentication is required for this endpoint"))
		return Abort()
	}
	return Continue()
}

func routeAuthRequirements(route domain.RouteLookupResult) (bool, *domain.ServicePermissionPolicy, string) {
	switch r := route.(type) {
	case domain.RouteMatch:
		return r.Endpoint.AuthRequired, r.Service.PermissionPolicy, r.Endpoint.Operation
	case domain.ServiceOnlyMatch:
		return r.Service.DefaultAuthRequired, r.Service.PermissionPolicy, ""
	default:
		return false, nil, ""
	}
}
