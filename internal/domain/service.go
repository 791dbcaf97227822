// Package domain holds the gateway's core entities and value types: service
// registrations, endpoints, API keys, sessions, rate-limit keys, and the
// persistence-contract interfaces external stores must satisfy.
package domain

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Visibility controls whether a service or endpoint is reachable without
// passing the access-control allow-list check.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// EndpointType distinguishes plain HTTP endpoints from WebSocket upgrades.
type EndpointType string

const (
	EndpointHTTP      EndpointType = "HTTP"
	EndpointWebSocket EndpointType = "WEBSOCKET"
)

var serviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ReservedServiceIDs are the gateway's own surfaces; they can never be
// claimed by a ServiceRegistration since the registry treats the first path
// segment as a serviceId.
var ReservedServiceIDs = map[string]struct{}{
	"admin":   {},
	"gateway": {},
	"q":       {},
}

// VisibilityRule overrides the effective visibility for requests whose path
// matches Pattern, independent of the endpoint/service default.
// authz.EffectiveVisibility resolves the longest-matching rule before
// falling back to endpoint/service defaults.
type VisibilityRule struct {
	Pattern    string
	Visibility Visibility
}

// ServiceAccessConfig is the private-endpoint allow-list: any match of IP,
// domain, or subdomain is sufficient for a source to reach a PRIVATE
// endpoint.
type ServiceAccessConfig struct {
	AllowedIPs       []string // literal IPs or CIDRs
	AllowedDomains   []string // exact host match
	AllowedSubdomains []string // glob "*.domain"
}

// CORSConfig is carried through registration but is not itself enforced by
// the request-processing core described in spec.md; it is surfaced to
// external collaborators (e.g. an admin UI) unchanged.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// OperationPermission names the permission set that satisfies a single
// service operation under a ServicePermissionPolicy.
type OperationPermission struct {
	AnyOfPermissions []string
}

// ServicePermissionPolicy maps an endpoint-defined operation name to the
// permissions that satisfy it. An operation absent from Operations falls
// back to the endpoint's AuthRequired check (§4.4 Open Question resolution).
type ServicePermissionPolicy struct {
	Operations map[string]OperationPermission
}

// RateLimitConfig is the declarative (requests, window, burst) triple that
// can be set at platform, service, or endpoint granularity; resolution picks
// the most specific non-nil value present.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowSeconds     int
	BurstCapacity     int
}

// EndpointConfig is one pattern+method mapping within a ServiceRegistration.
type EndpointConfig struct {
	Path          string
	Methods       []string // HTTP verbs, or {"*"}
	Visibility    Visibility
	PathRewrite   string
	AuthRequired  bool
	Type          EndpointType
	RateLimit     *RateLimitConfig
	Audience      string
	Operation     string // used by ServicePermissionPolicy lookups
}

// Validate checks the per-endpoint invariants from spec.md §3: HTTP
// endpoints need at least one method, WebSocket endpoints default to GET.
func (e *EndpointConfig) Validate() error {
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("endpoint path is required")
	}
	if _, err := CompilePattern(e.Path); err != nil {
		return err
	}
	if e.Type == "" {
		e.Type = EndpointHTTP
	}
	if e.Type == EndpointWebSocket {
		if len(e.Methods) == 0 {
			e.Methods = []string{"GET"}
		}
		return nil
	}
	if len(e.Methods) == 0 {
		return errors.New("http endpoint requires at least one method")
	}
	return nil
}

// ServiceRegistration is the unit of backend registration (spec.md §3).
type ServiceRegistration struct {
	ServiceID           string
	DisplayName         string
	BaseURL             string
	RoutePrefix         string
	DefaultVisibility   Visibility
	DefaultAuthRequired bool
	VisibilityRules     []VisibilityRule
	Endpoints           []EndpointConfig
	AccessConfig        *ServiceAccessConfig
	CORSConfig          *CORSConfig
	PermissionPolicy    *ServicePermissionPolicy
	RateLimitConfig     *RateLimitConfig
	Version             int64
}

// Validate enforces the registration-time invariants: serviceId charset,
// absolute baseUrl, and per-endpoint validity. It mutates Endpoints in place
// to apply their own defaults (e.g. WS method default).
func (s *ServiceRegistration) Validate() error {
	if !serviceIDPattern.MatchString(s.ServiceID) {
		return errors.New("serviceId must be alphanumeric plus '-'/'_'")
	}
	if _, reserved := ReservedServiceIDs[strings.ToLower(s.ServiceID)]; reserved {
		return errors.New("serviceId is reserved for gateway surfaces")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || !u.IsAbs() {
		return errors.New("baseUrl must be an absolute URI")
	}
	if s.DefaultVisibility == "" {
		s.DefaultVisibility = VisibilityPrivate
	}
	for i := range s.Endpoints {
		if err := s.Endpoints[i].Validate(); err != nil {
			return err
		}
	}
	if s.Version < 1 {
		s.Version = 1
	}
	return nil
}

// RouteLookupResult is the tagged variant spec.md §3 describes:
// RouteMatch(service, endpoint, targetPath, pathVariables) OR
// ServiceOnlyMatch(service). Modeled as an unexported marker interface with
// two implementing structs rather than a nilable pointer pair, per the
// REDESIGN FLAGS ("forbid null as the not-present case").
type RouteLookupResult interface {
	isRouteLookupResult()
}

// RouteMatch is returned when a specific endpoint pattern matched.
type RouteMatch struct {
	Service       *ServiceRegistration
	Endpoint      *EndpointConfig
	TargetPath    string
	PathVariables map[string]string
}

func (RouteMatch) isRouteLookupResult() {}

// ServiceOnlyMatch is returned when the serviceId resolved but no endpoint
// pattern matched the residual path: a pass-through, whose
// visibility/authRequired/rateLimit fall back to the service defaults.
// TargetPath is the residual path with the serviceId routing prefix already
// stripped (e.g. "/rest" for a request to "/demo/rest"), mirroring
// RouteMatch.TargetPath so dispatch never forwards the routing prefix to
// the upstream.
type ServiceOnlyMatch struct {
	Service    *ServiceRegistration
	TargetPath string
}

func (ServiceOnlyMatch) isRouteLookupResult() {}

// ServiceRepository is the persistence contract external stores must
// satisfy for the registry (spec.md §6). Only the interface is specified
// here; the wire format of any particular backing store is out of scope.
type ServiceRepository interface {
	List(ctx context.Context) ([]ServiceRegistration, error)
	Upsert(ctx context.Context, reg ServiceRegistration) error
	Delete(ctx context.Context, serviceID string) (bool, error)
	// Subscribe registers a listener invoked whenever a peer instance
	// publishes an invalidation event for serviceID (or "" for "all").
	Subscribe(ctx context.Context, onInvalidate func(serviceID string)) (unsubscribe func(), err error)
}

// ErrStoreUnavailable signals a repository write/read failure; callers
// surface it as 503 StoreUnavailable unless a fail-open policy applies.
var ErrStoreUnavailable = errors.New("store unavailable")
