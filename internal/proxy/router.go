// Package proxy builds and caches per-service httputil.ReverseProxy
// instances for the gateway's dynamic service catalog, generalizing the
// teacher's static Route list (matched by longest PathPrefix) into routing
// driven by internal/registry's RouteLookupResult (spec.md §4.5).
package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"github.com/aussie-gateway/aussie/internal/problem"
)

// Factory lazily builds and caches a *httputil.ReverseProxy per backend
// base URL, invalidated when the registry's snapshot changes (a service's
// baseUrl can change across re-registrations).
type Factory struct {
	mu        sync.RWMutex
	proxies   map[string]*httputil.ReverseProxy
	transport http.RoundTripper
	cfg       ForwardingConfig
	// SessionCookieName, when set, is stripped from the outbound Cookie
	// header so the gateway's own session cookie never reaches a backend.
	SessionCookieName string
}

// NewFactory constructs a Factory. transport is shared across every cached
// proxy so connection pooling is per-process, not per-service.
func NewFactory(transport http.RoundTripper, cfg ForwardingConfig) *Factory {
	return &Factory{
		proxies:   make(map[string]*httputil.ReverseProxy),
		transport: transport,
		cfg:       cfg,
	}
}

// For returns the cached reverse proxy for baseURL, building one on first
// use.
func (f *Factory) For(baseURL string) (*httputil.ReverseProxy, error) {
	f.mu.RLock()
	p, ok := f.proxies[baseURL]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil, errors.New("proxy: invalid base url " + baseURL)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.proxies[baseURL]; ok {
		return p, nil
	}
	p = f.build(u)
	f.proxies[baseURL] = p
	return p, nil
}

// Invalidate drops the cached proxy for baseURL, forcing it to be rebuilt
// on next use (called when the registry observes that service's baseUrl
// changed).
func (f *Factory) Invalidate(baseURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.proxies, baseURL)
}

// InvalidateAll drops every cached proxy.
func (f *Factory) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxies = make(map[string]*httputil.ReverseProxy)
}

func (f *Factory) build(upstream *url.URL) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(upstream)
	p.Transport = f.transport

	orig := p.Director
	p.Director = func(req *http.Request) {
		orig(req)
		req.Host = upstream.Host
		StripHopByHopHeaders(req.Header)
		if f.SessionCookieName != "" {
			stripCookie(req.Header, f.SessionCookieName)
		}
	}

	p.ModifyResponse = func(resp *http.Response) error {
		StripHopByHopHeaders(resp.Header)
		return nil
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeProxyError(w, err)
	}

	return p
}

// writeProxyError maps a round-trip failure to an RFC 7807 body: context
// deadline exceeded becomes 504 gateway_timeout, everything else 502
// bad_gateway, per spec.md §5's timeout-fallback table.
func writeProxyError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		problem.Write(w, problem.New(problem.TypeGatewayTimeout, http.StatusGatewayTimeout,
			"Gateway Timeout", "upstream did not respond in time", nil))
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	problem.Write(w, problem.New(problem.TypeBadGateway, http.StatusBadGateway,
		"Bad Gateway", detail, nil))
}

// stripCookie removes the named cookie from a Cookie header, rewriting the
// remaining cookies (or deleting the header entirely if none remain).
func stripCookie(h http.Header, name string) {
	raw := h.Get("Cookie")
	if raw == "" {
		return
	}
	parts := strings.Split(raw, "; ")
	kept := parts[:0]
	for _, part := range parts {
		if strings.HasPrefix(part, name+"=") {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		h.Del("Cookie")
		return
	}
	h.Set("Cookie", strings.Join(kept, "; "))
}

// RewriteTargetPath replaces req's URL path with targetPath, the resolved
// upstream path a RouteLookupResult computed from pattern variables and
// rewrite rules (spec.md §4.1's targetPath field).
func RewriteTargetPath(req *http.Request, targetPath string) {
	req.URL.Path = targetPath
	req.URL.RawPath = ""
}
