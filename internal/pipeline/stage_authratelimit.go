package pipeline

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussie-gateway/aussie/internal/authz"
	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/problem"
	"github.com/aussie-gateway/aussie/internal/ratelimit"
)

// AuthRateLimitStage enforces the brute-force lockout guard ahead of
// authentication (spec.md §4.2/§5's priority -100, fail-closed). It checks
// whether the request's source IP or credential identifier is currently
// locked out; the authentication stage later reports back (via
// RecordOutcome) whether the credential it saw was valid, so this stage
// can update the guard after the fact.
type AuthRateLimitStage struct {
	Guard          *ratelimit.LockoutGuard
	Resolver       authz.IPResolver
	IncludeHeaders bool
}

func (s AuthRateLimitStage) Name() string { return "auth-rate-limit" }

func (s AuthRateLimitStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	if s.Guard == nil {
		return Continue()
	}
	ip := s.Resolver.ClientIP(r)
	state.Source.IP = ip

	identifier, hasCredential := credentialIdentifier(r)

	locked, retryAfter, err := s.Guard.CheckLocked(r.Context(), lockoutIPKey(ip), lockoutIdentifierKey(identifier))
	if err != nil || locked {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		ext := map[string]any{}
		if s.IncludeHeaders {
			w.Header().Set("X-Auth-Lockout-Key", ip)
			w.Header().Set("X-Auth-Lockout-Reset", strconv.Itoa(seconds))
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		problem.Write(w, problem.New(problem.TypeTooManyRequests, http.StatusTooManyRequests,
			"Too Many Requests", "account or source temporarily locked out due to repeated failed authentication", ext))
		return Abort()
	}

	if hasCredential {
		state.CredentialIdentifier = identifier
	}
	return Continue()
}

// RecordOutcome is called by the authentication stage after it resolves an
// identity (or fails to), closing the loop the auth-rate-limit stage
// opened: a failed attempt increments the lockout counters, a success
// clears the identifier's counter (IP lockout persists independently, per
// spec.md §4.2).
func (s AuthRateLimitStage) RecordOutcome(r *http.Request, ip, identifier string, success bool) {
	if s.Guard == nil {
		return
	}
	if success {
		if identifier != "" {
			_ = s.Guard.ClearOnSuccess(r.Context(), lockoutIdentifierKey(identifier))
		}
		return
	}
	_ = s.Guard.RecordFailure(r.Context(), lockoutIPKey(ip), lockoutIdentifierKey(identifier), time.Now())
}

func lockoutIPKey(ip string) string         { return "ip:" + ip }
func lockoutIdentifierKey(id string) string { return "id:" + id }

// credentialIdentifier extracts a stable, non-reversible identifier for
// whatever credential the request presents (bearer token or session
// cookie), so the brute-force guard can track attempts per-credential
// without ever storing the credential itself.
func credentialIdentifier(r *http.Request) (string, bool) {
	if authzHeader := r.Header.Get("Authorization"); authzHeader != "" {
		if tok, ok := strings.CutPrefix(authzHeader, "Bearer "); ok {
			return domain.HashKey(tok)[:16], true
		}
	}
	if c, err := r.Cookie("aussie_session"); err == nil && c.Value != "" {
		return domain.HashKey(c.Value)[:16], true
	}
	return "", false
}
