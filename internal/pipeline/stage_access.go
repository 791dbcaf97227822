package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/authz"
	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/problem"
)

// AccessControlStage resolves effective visibility and, for PRIVATE
// routes, enforces the IP/domain allow-list (spec.md §4.4).
type AccessControlStage struct {
	Gate     authz.AccessGate
	Resolver authz.IPResolver
}

func (s AccessControlStage) Name() string { return "access-control" }

func (s AccessControlStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	if state.Source.IP == "" {
		state.Source.IP = s.Resolver.ClientIP(r)
	}
	state.Source.Host = r.Host

	svc, endpointVisibility, path := routeVisibilityInputs(state.Route, r.URL.Path)
	if svc == nil {
		return Continue()
	}

	visibility := authz.EffectiveVisibility(svc, endpointVisibility, path)
	if visibility != domain.VisibilityPrivate {
		return Continue()
	}

	if !s.Gate.Allow(svc.AccessConfig, state.Source) {
		// 404, not 403: a source that fails the private allow-list must not
		// learn the endpoint exists at all (spec.md §4.4 existence-hiding).
		problem.Write(w, problem.NotFound("no registered service matches this path"))
		return Abort()
	}
	return Continue()
}

func routeVisibilityInputs(route domain.RouteLookupResult, path string) (*domain.ServiceRegistration, string, string) {
	switch r := route.(type) {
	case domain.RouteMatch:
		return r.Service, string(r.Endpoint.Visibility), path
	case domain.ServiceOnlyMatch:
		return r.Service, "", path
	default:
		return nil, "", path
	}
}
