package pipeline

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/problem"
	"github.com/aussie-gateway/aussie/internal/ratelimit"
)

// RateLimitStage applies the generic per-request limiter, fail-open on
// store errors (spec.md §4.2, priority -50).
//
// This stage runs before RouteResolutionStage (§2/§5 ordering: cheap
// rejection happens before a route lookup), so state.Route is always nil
// here — the endpoint > service > platform precedence in §4.2 only ever
// resolves to the platform default for this limiter. Per-endpoint and
// per-service overrides are not applied by AuthRateLimitStage either: its
// lockout guard works only from LockoutConfig. The generic client-IP
// limiter is platform-default only.
type RateLimitStage struct {
	Limiter         *ratelimit.FailOpen
	PlatformDefault *domain.RateLimitConfig
	Floor, Ceiling  *domain.RateLimitConfig
	IncludeHeaders  bool
}

func (s RateLimitStage) Name() string { return "rate-limit" }

func (s RateLimitStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	if s.Limiter == nil {
		return Continue()
	}

	eff := domain.ResolveRateLimit(nil, nil, s.PlatformDefault, s.Floor, s.Ceiling)

	key := domain.RateLimitKey{
		Type:      domain.RateLimitHTTP,
		ClientID:  state.Source.IP,
		ServiceID: routeServiceID(state.Route),
	}

	decision, err := s.Limiter.CheckAndConsume(r.Context(), key.Canonical(), eff, time.Now().UnixMilli())
	if err != nil {
		// FailOpen never returns an error from CheckAndConsume; this branch
		// exists only to satisfy the interface shape.
		return Continue()
	}

	if s.IncludeHeaders {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(decision.Remaining, 'f', 0, 64))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAtUnix, 10))
	}

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		problem.TooManyRequests(w, decision.RetryAfterSeconds, map[string]any{
			"limit": decision.Limit,
		})
		return Abort()
	}
	return Continue()
}

func routeServiceID(route domain.RouteLookupResult) string {
	switch r := route.(type) {
	case domain.RouteMatch:
		return r.Service.ServiceID
	case domain.ServiceOnlyMatch:
		return r.Service.ServiceID
	default:
		return ""
	}
}
