// Package authz implements the gateway's two orthogonal gates (spec.md
// §4.4): pre-auth access control (is this source even eligible to reach
// this endpoint) and post-auth authorization (role gates, per-service
// permission policy).
package authz

import (
	"net"
	"strings"

	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/netx"
)

// SourceIdentifier is the request's resolved network origin, fed by the
// access-control check and reused as the rate-limit key's clientId.
type SourceIdentifier struct {
	IP   string
	Host string
}

// EffectiveVisibility resolves longest-matching VisibilityRule > endpoint's
// visibility > service's defaultVisibility, per spec.md §4.4. Ties among
// equally-long matching rules are broken by registration order (first rule
// wins), an Open Question resolved in DESIGN.md since no retrievable
// original-source reference existed to check against.
func EffectiveVisibility(svc *domain.ServiceRegistration, endpointVisibility string, requestPath string) domain.Visibility {
	bestLen := -1
	var best domain.Visibility
	found := false
	for _, rule := range svc.VisibilityRules {
		pat, err := domain.CompilePattern(rule.Pattern)
		if err != nil {
			continue
		}
		if _, ok := pat.Match(requestPath); ok {
			if len(rule.Pattern) > bestLen {
				bestLen = len(rule.Pattern)
				best = rule.Visibility
				found = true
			}
		}
	}
	if found {
		return best
	}
	if endpointVisibility != "" {
		return domain.Visibility(endpointVisibility)
	}
	return svc.DefaultVisibility
}

// AccessGate evaluates whether source may reach a PRIVATE endpoint, using
// the per-service ServiceAccessConfig if set, else a platform default.
type AccessGate struct {
	PlatformDefault *domain.ServiceAccessConfig
}

// Allow reports whether source satisfies the effective allow-list: any
// match of allowedIps (literal/CIDR), allowedDomains (exact), or
// allowedSubdomains (glob) is sufficient.
func (g AccessGate) Allow(svc *domain.ServiceAccessConfig, source SourceIdentifier) bool {
	cfg := svc
	if cfg == nil {
		cfg = g.PlatformDefault
	}
	if cfg == nil {
		return false
	}

	if source.IP != "" && len(cfg.AllowedIPs) > 0 {
		set, err := netx.ParseCIDRSet(cfg.AllowedIPs)
		if err == nil && set.Contains(net.ParseIP(source.IP)) {
			return true
		}
	}
	if source.Host != "" {
		domains := netx.NewDomainSet(cfg.AllowedDomains, cfg.AllowedSubdomains)
		if domains.MatchesExact(strings.ToLower(source.Host)) {
			return true
		}
		if domains.MatchesSubdomain(strings.ToLower(source.Host)) {
			return true
		}
	}
	return false
}
