package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/authn"
	"github.com/aussie-gateway/aussie/internal/problem"
)

// AuthenticationStage runs the mechanism chain, rejecting the conflicting
// authentication case before attempting any mechanism (spec.md §4.3's
// "Authorization header AND session cookie" 400), and feeds the outcome
// back into the auth-rate-limit guard.
type AuthenticationStage struct {
	Chain             *authn.Chain
	AuthRateLimit     *AuthRateLimitStage
	SessionCookieName string
	SessionsEnabled   bool
}

func (s AuthenticationStage) Name() string { return "authentication" }

func (s AuthenticationStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	if s.SessionsEnabled && hasBearerToken(r) && hasSessionCookie(r, s.SessionCookieName) {
		problem.Write(w, problem.BadRequest(problem.TypeConflictingAuth,
			"request carries both an Authorization header and a session cookie"))
		return Abort()
	}

	result, mechanismName := s.Chain.Authenticate(r.Context(), r)
	switch res := result.(type) {
	case authn.Authenticated:
		identity := res.Identity
		state.Identity = &identity
		state.AuthMechanism = mechanismName
		if s.AuthRateLimit != nil {
			s.AuthRateLimit.RecordOutcome(r, state.Source.IP, state.CredentialIdentifier, true)
		}
		return Continue()
	case authn.Failed:
		if s.AuthRateLimit != nil {
			s.AuthRateLimit.RecordOutcome(r, state.Source.IP, state.CredentialIdentifier, false)
		}
		problem.Write(w, problem.Unauthorized(res.Reason))
		return Abort()
	default: // Skip: no credential presented, proceed unauthenticated.
		return Continue()
	}
}

func hasBearerToken(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}

func hasSessionCookie(r *http.Request, name string) bool {
	if name == "" {
		return false
	}
	c, err := r.Cookie(name)
	return err == nil && c.Value != ""
}
