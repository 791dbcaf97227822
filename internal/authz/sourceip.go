package authz

import (
	"net"
	"net/http"
	"strings"

	"github.com/aussie-gateway/aussie/internal/netx"
)

// IPResolver extracts the client's true IP, generalizing the teacher's
// mw.IPResolver (which only ever checked X-Forwarded-For/X-Real-Ip) with
// the RFC 7239 Forwarded header ahead of the legacy headers, per spec.md
// §4.4's stated priority: Forwarded > X-Forwarded-For > socket peer >
// "unknown". Both branches stay gated behind the same trusted-proxy CIDR
// check the teacher used, so an untrusted peer can never spoof its origin.
type IPResolver struct {
	Trusted *netx.CIDRSet
}

// ClientIP resolves the request's originating IP.
func (r IPResolver) ClientIP(req *http.Request) string {
	remoteIP := parseRemoteIP(req.RemoteAddr)
	if remoteIP != nil && r.Trusted != nil && r.Trusted.Contains(remoteIP) {
		if fwd := req.Header.Get("Forwarded"); fwd != "" {
			if ip, ok := parseForwardedFor(fwd); ok {
				return ip
			}
		}
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				if ip := net.ParseIP(strings.TrimSpace(parts[0])); ip != nil {
					return ip.String()
				}
			}
		}
		if xrip := net.ParseIP(strings.TrimSpace(req.Header.Get("X-Real-Ip"))); xrip != nil {
			return xrip.String()
		}
	}
	if remoteIP != nil {
		return remoteIP.String()
	}
	if remoteIP == nil && req.RemoteAddr == "" {
		return "unknown"
	}
	return req.RemoteAddr
}

func parseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return net.ParseIP(remoteAddr)
	}
	return net.ParseIP(host)
}

// parseForwardedFor parses an RFC 7239 Forwarded header, returning the
// first (closest-to-client) "for=" parameter's IP. Handles quoted values,
// bracketed IPv6 literals, and a trailing ":port" on IPv4 addresses.
func parseForwardedFor(header string) (string, bool) {
	// Forwarded may list multiple comma-separated forwarded-elements, each
	// a semicolon-separated list of key=value pairs; take the first element.
	firstElement := header
	if idx := strings.IndexByte(header, ','); idx >= 0 {
		firstElement = header[:idx]
	}

	for _, pair := range strings.Split(firstElement, ";") {
		pair = strings.TrimSpace(pair)
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || !strings.EqualFold(strings.TrimSpace(kv[0]), "for") {
			continue
		}
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		return normalizeForwardedFor(val), val != ""
	}
	return "", false
}

func normalizeForwardedFor(val string) string {
	if val == "" {
		return ""
	}
	// Bracketed IPv6: "[::1]" or "[::1]:1234"
	if strings.HasPrefix(val, "[") {
		if end := strings.IndexByte(val, ']'); end > 0 {
			inner := val[1:end]
			if ip := net.ParseIP(inner); ip != nil {
				return ip.String()
			}
			return inner
		}
	}
	// IPv4 with a single ":port" — a bare IPv6 literal has multiple colons.
	if strings.Count(val, ":") == 1 {
		if host, _, err := net.SplitHostPort(val); err == nil {
			if ip := net.ParseIP(host); ip != nil {
				return ip.String()
			}
			return host
		}
	}
	if ip := net.ParseIP(val); ip != nil {
		return ip.String()
	}
	return val
}
