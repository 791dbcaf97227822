// Package adminapi mounts the gateway's own non-proxied surfaces
// (/healthz, /metrics, /-/status, /-/routes, /-/limits, /-/auth) on a
// chi.Router, generalizing the teacher's hand-built wrapAdmin/mux.Handle
// block in cmd/gateway/main.go. These are read-only introspection
// endpoints; the out-of-scope CRUD admin REST API for mutating
// services/keys/roles remains an external collaborator.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussie-gateway/aussie/internal/mw"
	"github.com/aussie-gateway/aussie/internal/registry"
)

// AuthStats is reported by whatever authentication mechanism(s) the
// gateway runs; it is intentionally loose (map[string]any) since the set
// of mechanisms (JWKS, API key, session cookie) varies by deployment.
type AuthStats interface {
	Stats() map[string]any
}

// Deps wires the live components this surface reports on.
type Deps struct {
	Logger       *slog.Logger
	Registry     *registry.Registry
	Metrics      *prometheus.Registry
	StartedAt    time.Time
	ListenAddr   string
	RateLimitBackend string
	AdminKey     string
	AuthStats    AuthStats
	LimitsReporter func() []map[string]any
}

// NewRouter builds the chi.Router mounting every admin-plane surface.
// /healthz is left unauthenticated (load balancer health checks carry no
// admin key); every other surface is gated by mw.RequireAdminKey.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	guarded := func(routeName string, h http.HandlerFunc) http.Handler {
		var wrapped http.Handler = h
		wrapped = mw.RequireAdminKey(d.AdminKey, wrapped)
		wrapped = mw.AccessLog(d.Logger, wrapped)
		wrapped = mw.WithRoute(wrapped, routeName)
		wrapped = mw.RequestID(wrapped)
		return wrapped
	}

	r.Handle("/metrics", guarded("admin_metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{}).ServeHTTP))

	r.Handle("/-/status", guarded("admin_status", func(w http.ResponseWriter, _ *http.Request) {
		info, _ := debug.ReadBuildInfo()
		goVer := ""
		if info != nil {
			goVer = info.GoVersion
		}
		writeJSON(w, map[string]any{
			"time_utc":       time.Now().UTC().Format(time.RFC3339),
			"uptime_seconds": int(time.Since(d.StartedAt).Seconds()),
			"listen_addr":    d.ListenAddr,
			"go_version":     goVer,
			"rate_backend":   d.RateLimitBackend,
			"services":       len(d.Registry.Services()),
		})
	}))

	r.Handle("/-/routes", guarded("admin_routes", func(w http.ResponseWriter, _ *http.Request) {
		svcs := d.Registry.Services()
		out := make([]map[string]any, 0, len(svcs))
		for _, svc := range svcs {
			endpoints := make([]map[string]any, 0, len(svc.Endpoints))
			for _, ep := range svc.Endpoints {
				endpoints = append(endpoints, map[string]any{
					"path":          ep.Path,
					"methods":       ep.Methods,
					"visibility":    ep.Visibility,
					"type":          ep.Type,
					"auth_required": ep.AuthRequired,
					"operation":     ep.Operation,
				})
			}
			out = append(out, map[string]any{
				"service_id":           svc.ServiceID,
				"display_name":         svc.DisplayName,
				"base_url":             svc.BaseURL,
				"default_visibility":   svc.DefaultVisibility,
				"default_auth_required": svc.DefaultAuthRequired,
				"version":              svc.Version,
				"endpoints":            endpoints,
			})
		}
		writeJSON(w, out)
	}))

	r.Handle("/-/limits", guarded("admin_limits", func(w http.ResponseWriter, _ *http.Request) {
		var rows []map[string]any
		if d.LimitsReporter != nil {
			rows = d.LimitsReporter()
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		writeJSON(w, rows)
	}))

	r.Handle("/-/auth", guarded("admin_auth", func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]any{}
		if d.AuthStats != nil {
			out = d.AuthStats.Stats()
		}
		writeJSON(w, out)
	}))

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
