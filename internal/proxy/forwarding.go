package proxy

import (
	"fmt"
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped from both the inbound request (before
// forwarding) and the upstream response (before relaying), per RFC 7230
// §6.1 plus the names this gateway additionally owns (spec.md §4.5).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHopHeaders removes the standard hop-by-hop set plus any header
// named in the request's own Connection list, mutating h in place.
func StripHopByHopHeaders(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// ForwardingConfig controls how client-origin metadata is attached to the
// outbound request (spec.md §6 "Forwarding").
type ForwardingConfig struct {
	UseRFC7239 bool
	GatewayID  string
}

// ApplyForwardingHeaders attaches the gateway's origin headers to the
// outbound request, in addition to whatever the client already sent
// upstream: RFC 7239 Forwarded (its "by" parameter carrying the gateway's
// own identity, per spec.md §4.5) or, in legacy mode, the
// X-Forwarded-For/-Proto/-Host/-By set.
func ApplyForwardingHeaders(outbound *http.Request, clientIP, proto, host string, cfg ForwardingConfig) {
	if cfg.UseRFC7239 {
		entry := fmt.Sprintf("for=%s;proto=%s;host=%s", quoteIfNeeded(clientIP), proto, host)
		if cfg.GatewayID != "" {
			entry += ";by=" + quoteIfNeeded(cfg.GatewayID)
		}
		if existing := outbound.Header.Get("Forwarded"); existing != "" {
			entry = existing + ", " + entry
		}
		outbound.Header.Set("Forwarded", entry)
		return
	}

	appendCommaHeader(outbound.Header, "X-Forwarded-For", clientIP)
	outbound.Header.Set("X-Forwarded-Proto", proto)
	outbound.Header.Set("X-Forwarded-Host", host)
	if cfg.GatewayID != "" {
		outbound.Header.Set("X-Forwarded-By", cfg.GatewayID)
	}
}

func appendCommaHeader(h http.Header, name, value string) {
	if existing := h.Get(name); existing != "" {
		h.Set(name, existing+", "+value)
		return
	}
	h.Set(name, value)
}

func quoteIfNeeded(ip string) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("\"[%s]\"", ip)
	}
	return ip
}
