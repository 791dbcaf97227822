package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/netx"
)

func TestEffectiveVisibilityLongestRuleWins(t *testing.T) {
	svc := &domain.ServiceRegistration{
		DefaultVisibility: domain.VisibilityPrivate,
		VisibilityRules: []domain.VisibilityRule{
			{Pattern: "/demo/**", Visibility: domain.VisibilityPublic},
			{Pattern: "/demo/admin/**", Visibility: domain.VisibilityPrivate},
		},
	}
	got := EffectiveVisibility(svc, "", "/demo/admin/secrets")
	if got != domain.VisibilityPrivate {
		t.Fatalf("expected longest-match rule (private) to win, got %v", got)
	}

	got2 := EffectiveVisibility(svc, "", "/demo/things")
	if got2 != domain.VisibilityPublic {
		t.Fatalf("expected the shorter but only matching rule (public), got %v", got2)
	}
}

func TestEffectiveVisibilityFallsBackToEndpointThenService(t *testing.T) {
	svc := &domain.ServiceRegistration{DefaultVisibility: domain.VisibilityPrivate}
	if got := EffectiveVisibility(svc, string(domain.VisibilityPublic), "/x"); got != domain.VisibilityPublic {
		t.Fatalf("expected endpoint visibility to win, got %v", got)
	}
	if got := EffectiveVisibility(svc, "", "/x"); got != domain.VisibilityPrivate {
		t.Fatalf("expected service default, got %v", got)
	}
}

func TestAccessGateAllowsByIP(t *testing.T) {
	gate := AccessGate{}
	cfg := &domain.ServiceAccessConfig{AllowedIPs: []string{"10.0.0.0/8"}}
	if !gate.Allow(cfg, SourceIdentifier{IP: "10.1.2.3"}) {
		t.Fatal("expected IP within allowed CIDR to pass")
	}
	if gate.Allow(cfg, SourceIdentifier{IP: "192.168.1.1"}) {
		t.Fatal("expected IP outside allowed CIDR to fail")
	}
}

func TestAccessGateAllowsBySubdomain(t *testing.T) {
	gate := AccessGate{}
	cfg := &domain.ServiceAccessConfig{AllowedSubdomains: []string{"*.internal.example.com"}}
	if !gate.Allow(cfg, SourceIdentifier{Host: "svc.internal.example.com"}) {
		t.Fatal("expected subdomain match to pass")
	}
	if gate.Allow(cfg, SourceIdentifier{Host: "internal.example.com"}) {
		t.Fatal("expected bare apex to NOT match *.internal.example.com")
	}
}

func TestIPResolverForwardedHeaderFromTrustedProxy(t *testing.T) {
	set, err := netx.ParseCIDRSet([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("Forwarded", `for=203.0.113.9;proto=https, for=10.1.2.3`)

	if got := r.ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected client ip from Forwarded header, got %q", got)
	}
}

func TestIPResolverForwardedHeaderIPv6Bracketed(t *testing.T) {
	set, _ := netx.ParseCIDRSet([]string{"10.0.0.0/8"})
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("Forwarded", `for="[2001:db8::1]:4711"`)

	if got := r.ClientIP(req); got != "2001:db8::1" {
		t.Fatalf("expected bracketed IPv6 literal extracted, got %q", got)
	}
}

func TestIPResolverUntrustedProxyIgnoresHeaders(t *testing.T) {
	set, _ := netx.ParseCIDRSet([]string{"10.0.0.0/8"})
	r := IPResolver{Trusted: set}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	req.Header.Set("Forwarded", `for=203.0.113.9`)

	if got := r.ClientIP(req); got != "192.168.1.5" {
		t.Fatalf("expected remote addr from untrusted peer, got %q", got)
	}
}

func TestRoleGateRequiresAnyRole(t *testing.T) {
	gate := RoleGate{RequiredRoles: []string{"admin"}}
	if gate.Allow(domain.Identity{Roles: []string{"viewer"}}) {
		t.Fatal("expected viewer role to fail admin gate")
	}
	if !gate.Allow(domain.Identity{Roles: []string{"admin"}}) {
		t.Fatal("expected admin role to pass")
	}
}

func TestPermissionGateFallsBackToAuthRequired(t *testing.T) {
	gate := PermissionGate{}
	policy := &domain.ServicePermissionPolicy{Operations: map[string]domain.OperationPermission{
		"things.read": {AnyOfPermissions: []string{"things:read"}},
	}}

	if !gate.Allow(policy, "things.write", domain.Identity{}, true) {
		t.Fatal("expected unmapped operation to fall back to authRequired (authenticated=true)")
	}
	if gate.Allow(policy, "things.write", domain.Identity{}, false) {
		t.Fatal("expected unmapped operation to deny when not authenticated")
	}
	if !gate.Allow(policy, "things.read", domain.Identity{Permissions: []string{"things:read"}}, true) {
		t.Fatal("expected matching permission to pass")
	}
	if gate.Allow(policy, "things.read", domain.Identity{Permissions: []string{"other:perm"}}, true) {
		t.Fatal("expected non-matching permission to fail")
	}
}
