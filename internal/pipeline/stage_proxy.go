package pipeline

import (
	"net/http"
	"strings"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/problem"
	"github.com/aussie-gateway/aussie/internal/proxy"
	"github.com/aussie-gateway/aussie/internal/session"
	"github.com/aussie-gateway/aussie/internal/wsbridge"
)

// ProxyDispatchStage is the terminal stage: it forwards the request to the
// resolved service's backend over HTTP, or upgrades and bridges a
// WebSocket connection (spec.md §4.5/§4.6).
type ProxyDispatchStage struct {
	Factory    *proxy.Factory
	Upgrader   *wsbridge.Upgrader
	Forwarding proxy.ForwardingConfig
	GatewayID  string
	WSConfig   wsbridge.Config

	// Minter and OutboundHeader enable downstream JWS issuance (spec.md
	// §4.7). When Minter is nil (sessions/JWS disabled), no token header
	// is added. Skipped entirely for anonymous requests: there is no
	// Identity to mint claims from.
	Minter         *session.TokenMinter
	OutboundHeader string
}

func (s ProxyDispatchStage) Name() string { return "proxy-dispatch" }

func (s ProxyDispatchStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	svc, targetPath := routeDispatchTarget(state.Route, r.URL.Path)
	if svc == nil {
		problem.Write(w, problem.NotFound("no registered service matches this path"))
		return Abort()
	}

	proxy.ApplyForwardingHeaders(r, state.Source.IP, schemeOf(r), r.Host, s.Forwarding)
	s.mintDownstreamToken(r, state)

	if isWebSocketUpgrade(r) {
		_ = s.Upgrader.Bridge(w, r, svc.BaseURL+targetPath, nil)
		return Abort()
	}

	rp, err := s.Factory.For(svc.BaseURL)
	if err != nil {
		problem.Write(w, problem.New(problem.TypeBadGateway, http.StatusBadGateway,
			"Bad Gateway", "invalid upstream configuration", nil))
		return Abort()
	}
	proxy.RewriteTargetPath(r, targetPath)
	rp.ServeHTTP(w, r)
	return Abort()
}

// mintDownstreamToken issues a short-lived JWS carrying the caller's
// identity so the upstream service can trust the gateway instead of
// re-validating the original credential itself.
func (s ProxyDispatchStage) mintDownstreamToken(r *http.Request, state *RequestState) {
	if s.Minter == nil || state.Identity == nil {
		return
	}
	sess := domain.Session{
		ID:          state.Identity.ID,
		UserID:      state.Identity.ID,
		Permissions: state.Identity.Permissions,
		Claims:      state.Identity.Attributes,
	}
	tok, err := s.Minter.Mint(sess, time.Time{})
	if err != nil {
		return
	}
	header := s.OutboundHeader
	if header == "" {
		header = "X-Aussie-Token"
	}
	r.Header.Set(header, tok)
}

func routeDispatchTarget(route domain.RouteLookupResult, path string) (*domain.ServiceRegistration, string) {
	switch r := route.(type) {
	case domain.RouteMatch:
		return r.Service, r.TargetPath
	case domain.ServiceOnlyMatch:
		return r.Service, r.TargetPath
	default:
		return nil, path
	}
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "Upgrade") ||
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
