// Package config loads and validates the gateway's platform configuration:
// server/upstream transport tuning, rate-limit algorithm selection, auth
// mechanisms, session/cookie settings, WebSocket bridge limits, forwarding
// header mode, and the seed list of services to register at startup. It
// follows the teacher's two-pass Load -> applyDefaults -> Validate
// structure (internal/config/config.go), extended with the sections
// spec.md §6 enumerates.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitBackend    `yaml:"rate_limit"`
	AuthRateLimit AuthRateLimitConfig `yaml:"auth_rate_limit"`
	Forwarding    ForwardingConfig    `yaml:"forwarding"`
	Limits        LimitsConfig        `yaml:"limits"`
	Session       SessionConfig       `yaml:"session"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Resiliency    ResiliencyConfig    `yaml:"resiliency"`
	Registry      RegistryConfig      `yaml:"registry"`
	DangerousNoop bool                `yaml:"dangerous_noop"`
	Environment   string              `yaml:"environment"` // "production" makes Validate reject DangerousNoop
	Services      []ServiceSeed       `yaml:"services"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	MaxHeaderBytes           int      `yaml:"max_header_bytes"`
	MaxBodyBytes             int64    `yaml:"max_body_bytes"`
	ReadTimeoutSeconds       int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	AdminKeyEnv              string   `yaml:"admin_key_env"` // env var name holding the admin-surface key
}

type UpstreamConfig struct {
	DialTimeoutSeconds           int `yaml:"dial_timeout_seconds"`
	TLSHandshakeTimeoutSeconds   int `yaml:"tls_handshake_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `yaml:"response_header_timeout_seconds"`
	IdleConnTimeoutSeconds       int `yaml:"idle_conn_timeout_seconds"`
	MaxIdleConns                 int `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost          int `yaml:"max_idle_conns_per_host"`
}

// AuthConfig configures the mechanism chain (spec.md §4.3): API key,
// session cookie, and one or more JWT/JWKS issuers.
type AuthConfig struct {
	APIKeyEnabled   bool             `yaml:"api_key_enabled"`
	SessionEnabled  bool             `yaml:"session_enabled"`
	JWTEnabled      bool             `yaml:"jwt_enabled"`
	JWKSIssuers     []JWKSAuthConfig `yaml:"jwks_issuers"`
}

type JWKSAuthConfig struct {
	Issuer             string   `yaml:"issuer"`
	URL                string   `yaml:"url"`
	CacheTTLSeconds    int      `yaml:"cache_ttl_seconds"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds"`
	LeewaySeconds      int      `yaml:"leeway_seconds"`
	Audiences          []string `yaml:"audiences"`
}

// RateLimitBackend selects the generic rate limiter's algorithm and store.
type RateLimitBackend struct {
	Enabled                bool           `yaml:"enabled"`
	Algorithm              string         `yaml:"algorithm"` // "bucket" | "fixed_window" | "sliding_window"
	Backend                string         `yaml:"backend"`   // "redis" | "memory"
	DefaultRequestsPerWindow int          `yaml:"default_requests_per_window"`
	DefaultWindowSeconds     int          `yaml:"default_window_seconds"`
	DefaultBurstCapacity     int          `yaml:"default_burst_capacity"`
	IncludeHeaders           bool         `yaml:"include_headers"`
	Redis                    RedisConfig  `yaml:"redis"`
	Memory                   MemoryRLConfig `yaml:"memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MemoryRLConfig struct {
	CleanupSeconds int `yaml:"cleanup_seconds"`
	TTLSeconds     int `yaml:"ttl_seconds"`
}

// AuthRateLimitConfig is the brute-force lockout policy (spec.md §6).
type AuthRateLimitConfig struct {
	Enabled               bool    `yaml:"enabled"`
	Backend               string  `yaml:"backend"` // "redis" | "memory"
	Redis                 RedisConfig `yaml:"redis"`
	MaxFailedAttempts     int     `yaml:"max_failed_attempts"`
	LockoutDurationSeconds int    `yaml:"lockout_duration_seconds"`
	FailedAttemptWindowSeconds int `yaml:"failed_attempt_window_seconds"`
	TrackByIP             bool    `yaml:"track_by_ip"`
	TrackByIdentifier      bool    `yaml:"track_by_identifier"`
	ProgressiveMultiplier  float64 `yaml:"progressive_multiplier"`
	MaxLockoutDurationSeconds int  `yaml:"max_lockout_duration_seconds"`
	IncludeHeaders         bool    `yaml:"include_headers"`
}

// ForwardingConfig selects RFC 7239 vs legacy X-Forwarded-* headers
// (spec.md §4.5).
type ForwardingConfig struct {
	UseRFC7239 bool   `yaml:"use_rfc7239"`
	GatewayID  string `yaml:"gateway_id"`
}

// LimitsConfig holds the pre-flight size checks (spec.md §4.5).
type LimitsConfig struct {
	MaxBodySize         int64 `yaml:"max_body_size"`
	MaxHeaderSize        int  `yaml:"max_header_size"`
	MaxTotalHeadersSize  int  `yaml:"max_total_headers_size"`
}

type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
	SameSite string `yaml:"same_site"` // "Lax" | "Strict" | "None"
}

// SessionConfig configures session cookies, lifecycle, and JWS issuance
// (spec.md §4.7, §6).
type SessionConfig struct {
	Enabled           bool         `yaml:"enabled"`
	Cookie            CookieConfig `yaml:"cookie"`
	TTLSeconds        int          `yaml:"ttl_seconds"`
	IdleTimeoutSeconds int         `yaml:"idle_timeout_seconds"`
	SlidingExpiration bool         `yaml:"sliding_expiration"`
	HashKeyEnv        string       `yaml:"hash_key_env"`   // secure-cookie signing key env var
	BlockKeyEnv       string       `yaml:"block_key_env"`  // secure-cookie encryption key env var
	Backend           string       `yaml:"backend"`        // "redis" | "memory"
	Redis             RedisConfig  `yaml:"redis"`
	JWS               JWSConfig    `yaml:"jws"`
}

// JWSConfig configures downstream token minting (spec.md §4.7).
type JWSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Issuer         string   `yaml:"issuer"`
	KeyID          string   `yaml:"key_id"`
	PrivateKeyEnv  string   `yaml:"private_key_env"` // env var holding PEM RSA private key
	TTLSeconds     int      `yaml:"ttl_seconds"`
	Audience       string   `yaml:"audience"`
	IncludeClaims  []string `yaml:"include_claims"`
	OutboundHeader string   `yaml:"outbound_header"`
}

// WebSocketPingConfig tunes the keep-alive ping/pong cadence.
type WebSocketPingConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
}

// WebSocketConfig configures the bridge's lifecycle timers (spec.md §4.6, §6).
type WebSocketConfig struct {
	IdleTimeoutSeconds int                 `yaml:"idle_timeout_seconds"`
	MaxLifetimeSeconds int                 `yaml:"max_lifetime_seconds"`
	MaxConnections     int                 `yaml:"max_connections"`
	Ping               WebSocketPingConfig `yaml:"ping"`
}

// ResiliencyConfig holds the per-collaborator timeouts from spec.md §5/§6.
type ResiliencyConfig struct {
	HTTPRequestTimeoutSeconds  int `yaml:"http_request_timeout_seconds"`
	HTTPConnectTimeoutSeconds int `yaml:"http_connect_timeout_seconds"`
	JWKSFetchTimeoutSeconds   int `yaml:"jwks_fetch_timeout_seconds"`
	JWKSCacheTTLSeconds       int `yaml:"jwks_cache_ttl_seconds"`
	JWKSMaxCacheEntries       int `yaml:"jwks_max_cache_entries"`
	RedisOperationTimeoutSeconds int `yaml:"redis_operation_timeout_seconds"`
}

// RegistryConfig selects the ServiceRepository backend.
type RegistryConfig struct {
	Backend string      `yaml:"backend"` // "redis" | "memory"
	Redis   RedisConfig `yaml:"redis"`
}

// ServiceSeed bootstraps the registry at startup, analogous to the
// teacher's static Routes list but feeding the dynamic registry instead of
// a fixed route table.
type ServiceSeed struct {
	ServiceID           string   `yaml:"service_id"`
	DisplayName         string   `yaml:"display_name"`
	BaseURL             string   `yaml:"base_url"`
	RoutePrefix         string   `yaml:"route_prefix"`
	DefaultVisibility   string   `yaml:"default_visibility"`
	DefaultAuthRequired bool     `yaml:"default_auth_required"`
	Endpoints           []EndpointSeed `yaml:"endpoints"`
}

type EndpointSeed struct {
	Path         string   `yaml:"path"`
	Methods      []string `yaml:"methods"`
	Visibility   string   `yaml:"visibility"`
	PathRewrite  string   `yaml:"path_rewrite"`
	AuthRequired bool     `yaml:"auth_required"`
	Type         string   `yaml:"type"`
	Operation    string   `yaml:"operation"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}

	if cfg.Upstream.DialTimeoutSeconds == 0 {
		cfg.Upstream.DialTimeoutSeconds = 5
	}
	if cfg.Upstream.TLSHandshakeTimeoutSeconds == 0 {
		cfg.Upstream.TLSHandshakeTimeoutSeconds = 5
	}
	if cfg.Upstream.ResponseHeaderTimeoutSeconds == 0 {
		cfg.Upstream.ResponseHeaderTimeoutSeconds = 15
	}
	if cfg.Upstream.IdleConnTimeoutSeconds == 0 {
		cfg.Upstream.IdleConnTimeoutSeconds = 90
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = 100
	}
	if cfg.Upstream.MaxIdleConnsPerHost == 0 {
		cfg.Upstream.MaxIdleConnsPerHost = 20
	}

	for i := range cfg.Auth.JWKSIssuers {
		j := &cfg.Auth.JWKSIssuers[i]
		if j.CacheTTLSeconds == 0 {
			j.CacheTTLSeconds = 300
		}
		if j.HTTPTimeoutSeconds == 0 {
			j.HTTPTimeoutSeconds = 3
		}
		if j.LeewaySeconds == 0 {
			j.LeewaySeconds = 30
		}
	}

	if cfg.RateLimit.Algorithm == "" {
		cfg.RateLimit.Algorithm = "bucket"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.DefaultRequestsPerWindow == 0 {
		cfg.RateLimit.DefaultRequestsPerWindow = 100
	}
	if cfg.RateLimit.DefaultWindowSeconds == 0 {
		cfg.RateLimit.DefaultWindowSeconds = 60
	}
	if cfg.RateLimit.DefaultBurstCapacity == 0 {
		cfg.RateLimit.DefaultBurstCapacity = cfg.RateLimit.DefaultRequestsPerWindow
	}
	if cfg.RateLimit.Memory.TTLSeconds == 0 {
		cfg.RateLimit.Memory.TTLSeconds = 300
	}
	if cfg.RateLimit.Memory.CleanupSeconds == 0 {
		cfg.RateLimit.Memory.CleanupSeconds = 60
	}

	if cfg.AuthRateLimit.Backend == "" {
		cfg.AuthRateLimit.Backend = "memory"
	}
	if cfg.AuthRateLimit.MaxFailedAttempts == 0 {
		cfg.AuthRateLimit.MaxFailedAttempts = 5
	}
	if cfg.AuthRateLimit.LockoutDurationSeconds == 0 {
		cfg.AuthRateLimit.LockoutDurationSeconds = 15 * 60
	}
	if cfg.AuthRateLimit.FailedAttemptWindowSeconds == 0 {
		cfg.AuthRateLimit.FailedAttemptWindowSeconds = 60 * 60
	}
	if cfg.AuthRateLimit.ProgressiveMultiplier == 0 {
		cfg.AuthRateLimit.ProgressiveMultiplier = 1.5
	}
	if cfg.AuthRateLimit.MaxLockoutDurationSeconds == 0 {
		cfg.AuthRateLimit.MaxLockoutDurationSeconds = 24 * 60 * 60
	}

	if cfg.Limits.MaxBodySize == 0 {
		cfg.Limits.MaxBodySize = 10 << 20
	}
	if cfg.Limits.MaxHeaderSize == 0 {
		cfg.Limits.MaxHeaderSize = 8 << 10
	}
	if cfg.Limits.MaxTotalHeadersSize == 0 {
		cfg.Limits.MaxTotalHeadersSize = 32 << 10
	}

	if cfg.Session.Cookie.Name == "" {
		cfg.Session.Cookie.Name = "aussie_session"
	}
	if cfg.Session.Cookie.Path == "" {
		cfg.Session.Cookie.Path = "/"
	}
	if cfg.Session.Cookie.SameSite == "" {
		cfg.Session.Cookie.SameSite = "Lax"
	}
	if cfg.Session.TTLSeconds == 0 {
		cfg.Session.TTLSeconds = 24 * 60 * 60
	}
	if cfg.Session.IdleTimeoutSeconds == 0 {
		cfg.Session.IdleTimeoutSeconds = 30 * 60
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = "memory"
	}
	if cfg.Session.JWS.TTLSeconds == 0 {
		cfg.Session.JWS.TTLSeconds = 60
	}
	if cfg.Session.JWS.OutboundHeader == "" {
		cfg.Session.JWS.OutboundHeader = "X-Aussie-Token"
	}

	if cfg.WebSocket.IdleTimeoutSeconds == 0 {
		cfg.WebSocket.IdleTimeoutSeconds = 5 * 60
	}
	if cfg.WebSocket.MaxLifetimeSeconds == 0 {
		cfg.WebSocket.MaxLifetimeSeconds = 24 * 60 * 60
	}
	if cfg.WebSocket.Ping.IntervalSeconds == 0 {
		cfg.WebSocket.Ping.IntervalSeconds = 30
	}
	if cfg.WebSocket.Ping.TimeoutSeconds == 0 {
		cfg.WebSocket.Ping.TimeoutSeconds = 10
	}

	if cfg.Resiliency.HTTPRequestTimeoutSeconds == 0 {
		cfg.Resiliency.HTTPRequestTimeoutSeconds = 30
	}
	if cfg.Resiliency.HTTPConnectTimeoutSeconds == 0 {
		cfg.Resiliency.HTTPConnectTimeoutSeconds = 5
	}
	if cfg.Resiliency.JWKSFetchTimeoutSeconds == 0 {
		cfg.Resiliency.JWKSFetchTimeoutSeconds = 5
	}
	if cfg.Resiliency.JWKSCacheTTLSeconds == 0 {
		cfg.Resiliency.JWKSCacheTTLSeconds = 60 * 60
	}
	if cfg.Resiliency.JWKSMaxCacheEntries == 0 {
		cfg.Resiliency.JWKSMaxCacheEntries = 100
	}
	if cfg.Resiliency.RedisOperationTimeoutSeconds == 0 {
		cfg.Resiliency.RedisOperationTimeoutSeconds = 1
	}

	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = "memory"
	}
}

func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if backend != "redis" && backend != "memory" {
		return fmt.Errorf("rate_limit.backend must be 'redis' or 'memory'")
	}
	if backend == "redis" && strings.TrimSpace(cfg.RateLimit.Redis.Addr) == "" {
		return fmt.Errorf("rate_limit.redis.addr is required when backend is redis")
	}
	algo := strings.ToLower(strings.TrimSpace(cfg.RateLimit.Algorithm))
	switch algo {
	case "bucket", "fixed_window", "sliding_window":
	default:
		return fmt.Errorf("rate_limit.algorithm must be 'bucket', 'fixed_window', or 'sliding_window'")
	}

	for i, j := range cfg.Auth.JWKSIssuers {
		if strings.TrimSpace(j.Issuer) == "" {
			return fmt.Errorf("auth.jwks_issuers[%d].issuer is required", i)
		}
		if strings.TrimSpace(j.URL) == "" {
			return fmt.Errorf("auth.jwks_issuers[%d].url is required", i)
		}
		if _, err := url.Parse(j.URL); err != nil {
			return fmt.Errorf("auth.jwks_issuers[%d].url invalid: %v", i, err)
		}
	}

	if cfg.AuthRateLimit.Enabled {
		ab := strings.ToLower(strings.TrimSpace(cfg.AuthRateLimit.Backend))
		if ab != "redis" && ab != "memory" {
			return fmt.Errorf("auth_rate_limit.backend must be 'redis' or 'memory'")
		}
		if ab == "redis" && strings.TrimSpace(cfg.AuthRateLimit.Redis.Addr) == "" {
			return fmt.Errorf("auth_rate_limit.redis.addr is required when auth_rate_limit.backend is redis")
		}
	}

	if cfg.Session.Enabled {
		ss := strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
		if ss != "redis" && ss != "memory" {
			return fmt.Errorf("session.backend must be 'redis' or 'memory'")
		}
		if ss == "redis" && strings.TrimSpace(cfg.Session.Redis.Addr) == "" {
			return fmt.Errorf("session.redis.addr is required when session.backend is redis")
		}
	}

	if cfg.DangerousNoop && strings.EqualFold(cfg.Environment, "production") {
		return errors.New("dangerous_noop cannot be enabled when environment is production")
	}

	seen := map[string]struct{}{}
	for i, svc := range cfg.Services {
		id := strings.TrimSpace(svc.ServiceID)
		if id == "" {
			return fmt.Errorf("services[%d].service_id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate services[%d].service_id: %q", i, id)
		}
		seen[id] = struct{}{}
		if svc.BaseURL == "" {
			return fmt.Errorf("services[%d].base_url is required", i)
		}
		if _, err := url.Parse(svc.BaseURL); err != nil {
			return fmt.Errorf("services[%d].base_url invalid: %v", i, err)
		}
	}

	return nil
}
