package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/problem"
	"github.com/aussie-gateway/aussie/internal/registry"
)

// RouteResolutionStage resolves the request path against the service
// registry, storing the RouteLookupResult on state for downstream stages.
type RouteResolutionStage struct {
	Registry *registry.Registry
}

func (s RouteResolutionStage) Name() string { return "route-resolution" }

func (s RouteResolutionStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	route, err := s.Registry.FindRoute(r.URL.Path, r.Method)
	if err != nil {
		problem.Write(w, problem.NotFound("no registered service matches this path"))
		return Abort()
	}
	if route == nil {
		problem.Write(w, problem.NotFound("no registered service matches this path"))
		return Abort()
	}
	state.Route = route
	return Continue()
}
