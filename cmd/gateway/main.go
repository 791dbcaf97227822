package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/aussie/internal/adminapi"
	"github.com/aussie-gateway/aussie/internal/authn"
	"github.com/aussie-gateway/aussie/internal/authz"
	"github.com/aussie-gateway/aussie/internal/config"
	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/logging"
	"github.com/aussie-gateway/aussie/internal/mw"
	"github.com/aussie-gateway/aussie/internal/netx"
	"github.com/aussie-gateway/aussie/internal/pipeline"
	"github.com/aussie-gateway/aussie/internal/proxy"
	"github.com/aussie-gateway/aussie/internal/ratelimit"
	"github.com/aussie-gateway/aussie/internal/registry"
	"github.com/aussie-gateway/aussie/internal/session"
	"github.com/aussie-gateway/aussie/internal/wsbridge"
)

func main() {
	var configPath string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "./config/config.example.yaml", "path to yaml config")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	log := logging.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if validateOnly {
		log.Info("config ok")
		return
	}

	startedAt := time.Now()

	// ---- Service registry (memory or redis-backed)
	var serviceRepo domain.ServiceRepository
	if strings.EqualFold(cfg.Registry.Backend, "redis") {
		rdb := newRedisClient(cfg.Registry.Redis)
		serviceRepo = registry.NewRedisServiceRepository(rdb, "aussie:registry:services", "aussie:registry:invalidate")
	} else {
		serviceRepo = registry.NewMemoryServiceRepository()
	}
	reg := registry.New(serviceRepo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := reg.Load(ctx); err != nil {
		log.Error("failed to load registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancel()
	for _, seed := range cfg.Services {
		if _, err := reg.Register(context.Background(), seedToRegistration(seed)); err != nil {
			log.Error("failed to register seed service", slog.String("service_id", seed.ServiceID), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// ---- Trusted proxies / IP resolver
	trusted, err := netx.ParseCIDRSet(cfg.Server.TrustedProxies)
	if err != nil {
		log.Error("invalid server.trusted_proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ipResolver := authz.IPResolver{Trusted: trusted}

	// ---- Generic rate limiter
	algo := ratelimit.Algorithm(cfg.RateLimit.Algorithm)
	var store domain.RateLimitStore
	if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
		rdb := newRedisClient(cfg.RateLimit.Redis)
		store = ratelimit.NewRedisStore(rdb, algo)
	} else {
		store = ratelimit.NewMemoryStore(algo,
			time.Duration(cfg.RateLimit.Memory.TTLSeconds)*time.Second,
			time.Duration(cfg.RateLimit.Memory.CleanupSeconds)*time.Second)
	}
	failOpenLimiter := &ratelimit.FailOpen{Store: store, Logger: log}
	platformDefault := &domain.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.DefaultRequestsPerWindow,
		WindowSeconds:     cfg.RateLimit.DefaultWindowSeconds,
		BurstCapacity:     cfg.RateLimit.DefaultBurstCapacity,
	}

	// ---- Auth-rate-limit (brute-force lockout) guard
	var lockoutGuard *ratelimit.LockoutGuard
	if cfg.AuthRateLimit.Enabled {
		var failedRepo domain.FailedAttemptRepository
		if strings.EqualFold(cfg.AuthRateLimit.Backend, "redis") {
			rdb := newRedisClient(cfg.AuthRateLimit.Redis)
			failedRepo = ratelimit.NewRedisFailedAttemptRepository(rdb, "aussie:lockout:")
		} else {
			failedRepo = ratelimit.NewMemoryFailedAttemptRepository()
		}
		lockoutGuard = ratelimit.NewLockoutGuard(failedRepo, ratelimit.LockoutConfig{
			MaxFailedAttempts:     cfg.AuthRateLimit.MaxFailedAttempts,
			LockoutDuration:       time.Duration(cfg.AuthRateLimit.LockoutDurationSeconds) * time.Second,
			FailedAttemptWindow:   time.Duration(cfg.AuthRateLimit.FailedAttemptWindowSeconds) * time.Second,
			ProgressiveMultiplier: cfg.AuthRateLimit.ProgressiveMultiplier,
			MaxLockoutDuration:    time.Duration(cfg.AuthRateLimit.MaxLockoutDurationSeconds) * time.Second,
			TrackByIP:             cfg.AuthRateLimit.TrackByIP,
			TrackByIdentifier:     cfg.AuthRateLimit.TrackByIdentifier,
		})
	}
	authRLStage := &pipeline.AuthRateLimitStage{
		Guard:          lockoutGuard,
		Resolver:       ipResolver,
		IncludeHeaders: cfg.AuthRateLimit.IncludeHeaders,
	}

	// ---- Authentication chain
	var mechanisms []authn.Mechanism
	var authStats adminapi.AuthStats

	if cfg.DangerousNoop {
		noop, err := authn.NewNoopMechanism(cfg.Environment, log)
		if err != nil {
			log.Error("dangerous_noop refused", slog.String("error", err.Error()))
			os.Exit(1)
		}
		mechanisms = append(mechanisms, noop)
	}
	if cfg.Auth.APIKeyEnabled {
		mechanisms = append(mechanisms, authn.NewAPIKeyMechanism(authn.NewMemoryApiKeyRepository()))
	}

	var sessionManager *session.Manager
	var cookieCodec *session.CookieCodec
	if cfg.Auth.SessionEnabled && cfg.Session.Enabled {
		var sessionRepo domain.SessionRepository
		if strings.EqualFold(cfg.Session.Backend, "redis") {
			rdb := newRedisClient(cfg.Session.Redis)
			sessionRepo = session.NewRedisSessionStore(rdb, time.Duration(cfg.Session.TTLSeconds)*time.Second)
		} else {
			sessionRepo = session.NewMemorySessionStore()
		}
		sessionManager = session.New(sessionRepo,
			time.Duration(cfg.Session.TTLSeconds)*time.Second,
			time.Duration(cfg.Session.IdleTimeoutSeconds)*time.Second,
			cfg.Session.SlidingExpiration)

		hashKey := []byte(os.Getenv(cfg.Session.HashKeyEnv))
		blockKey := []byte(os.Getenv(cfg.Session.BlockKeyEnv))
		cookieCodec = session.NewCookieCodec(cfg.Session.Cookie, hashKey, blockKey)

		mechanisms = append(mechanisms, authn.NewSessionMechanism(cookieCodec, sessionManager,
			time.Duration(cfg.Session.IdleTimeoutSeconds)*time.Second))
	}

	if cfg.Auth.JWTEnabled && len(cfg.Auth.JWKSIssuers) > 0 {
		validators := make(map[string]*authn.JWKSValidator, len(cfg.Auth.JWKSIssuers))
		for _, jc := range cfg.Auth.JWKSIssuers {
			v, err := authn.NewJWKSValidator(jc.URL, authn.JWKSValidatorOptions{
				HTTPTimeout: time.Duration(jc.HTTPTimeoutSeconds) * time.Second,
				CacheTTL:    time.Duration(jc.CacheTTLSeconds) * time.Second,
				Leeway:      time.Duration(jc.LeewaySeconds) * time.Second,
				Issuers:     []string{jc.Issuer},
				Audiences:   jc.Audiences,
				ValidAlgs:   []string{"RS256"},
			})
			if err != nil {
				log.Error("failed to init jwks validator", slog.String("issuer", jc.Issuer), slog.String("error", err.Error()))
				os.Exit(1)
			}
			validators[jc.Issuer] = v
		}
		jwtMechanism := authn.NewJWTMechanism(validators, nil)
		mechanisms = append(mechanisms, jwtMechanism)
		authStats = jwtMechanism
	}

	chain := authn.NewChain(mechanisms...)

	// ---- Reverse proxy + WebSocket bridge
	transport := proxy.NewTransport(proxy.TransportConfig{
		DialTimeout:           time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second,
		TLSHandshakeTimeout:   time.Duration(cfg.Upstream.TLSHandshakeTimeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.ResponseHeaderTimeoutSeconds) * time.Second,
		IdleConnTimeout:       time.Duration(cfg.Upstream.IdleConnTimeoutSeconds) * time.Second,
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
	})
	forwardingCfg := proxy.ForwardingConfig{
		UseRFC7239: cfg.Forwarding.UseRFC7239,
		GatewayID:  cfg.Forwarding.GatewayID,
	}
	proxyFactory := proxy.NewFactory(transport, forwardingCfg)

	wsCfg := wsbridge.Config{
		IdleTimeout:    time.Duration(cfg.WebSocket.IdleTimeoutSeconds) * time.Second,
		MaxLifetime:    time.Duration(cfg.WebSocket.MaxLifetimeSeconds) * time.Second,
		PingEnabled:    cfg.WebSocket.Ping.Enabled,
		PingInterval:   time.Duration(cfg.WebSocket.Ping.IntervalSeconds) * time.Second,
		PingTimeout:    time.Duration(cfg.WebSocket.Ping.TimeoutSeconds) * time.Second,
		MaxMessageSize: cfg.Server.MaxBodyBytes,
	}
	upgrader := wsbridge.NewUpgrader(wsCfg, nil, log)

	// ---- Downstream JWS minting (spec.md §4.7)
	var tokenMinter *session.TokenMinter
	if cfg.Session.JWS.Enabled {
		tokenMinter, err = session.NewTokenMinter(session.MinterOptions{
			Issuer:        cfg.Session.JWS.Issuer,
			KeyID:         cfg.Session.JWS.KeyID,
			PrivateKeyPEM: []byte(os.Getenv(cfg.Session.JWS.PrivateKeyEnv)),
			TTL:           time.Duration(cfg.Session.JWS.TTLSeconds) * time.Second,
			MaxTTL:        time.Duration(cfg.Session.JWS.TTLSeconds) * time.Second,
			Audience:      cfg.Session.JWS.Audience,
			IncludeClaims: cfg.Session.JWS.IncludeClaims,
		})
		if err != nil {
			log.Error("failed to init token minter", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// ---- Pipeline
	p := pipeline.New([]pipeline.Stage{
		pipeline.SizeValidationStage{Limits: proxy.SizeLimits{
			MaxBodySize:         cfg.Limits.MaxBodySize,
			MaxHeaderSize:        cfg.Limits.MaxHeaderSize,
			MaxTotalHeadersSize:  cfg.Limits.MaxTotalHeadersSize,
		}},
		authRLStage,
		pipeline.RateLimitStage{
			Limiter:         failOpenLimiter,
			PlatformDefault: platformDefault,
			IncludeHeaders:  cfg.RateLimit.IncludeHeaders,
		},
		pipeline.RouteResolutionStage{Registry: reg},
		pipeline.AccessControlStage{Gate: authz.AccessGate{}, Resolver: ipResolver},
		pipeline.AuthenticationStage{
			Chain:             chain,
			AuthRateLimit:     authRLStage,
			SessionCookieName: cfg.Session.Cookie.Name,
			SessionsEnabled:   cfg.Auth.SessionEnabled,
		},
		pipeline.AuthorizationStage{PermissionGate: authz.PermissionGate{}},
		pipeline.ProxyDispatchStage{
			Factory:        proxyFactory,
			Upgrader:       upgrader,
			Forwarding:     forwardingCfg,
			GatewayID:      cfg.Forwarding.GatewayID,
			WSConfig:       wsCfg,
			Minter:         tokenMinter,
			OutboundHeader: cfg.Session.JWS.OutboundHeader,
		},
	}, nil)

	// ---- Admin surface
	adminKey := ""
	if cfg.Server.AdminKeyEnv != "" {
		adminKey = os.Getenv(cfg.Server.AdminKeyEnv)
	}
	metricsReg := prometheus.NewRegistry()
	gatewayMetrics := mw.NewMetrics(metricsReg)
	adminHandler := adminapi.NewRouter(adminapi.Deps{
		Logger:           log,
		Registry:         reg,
		Metrics:          metricsReg,
		StartedAt:        startedAt,
		ListenAddr:       cfg.Server.Addr,
		RateLimitBackend: cfg.RateLimit.Backend,
		AdminKey:         adminKey,
		AuthStats:        authStats,
	})

	var proxyHandler http.Handler = p
	proxyHandler = mw.Instrument(gatewayMetrics, proxyHandler)
	proxyHandler = mw.WithRoute(proxyHandler, "proxy")
	proxyHandler = mw.AccessLog(log, proxyHandler)
	proxyHandler = mw.RequestID(proxyHandler)
	proxyHandler = mw.Recover(proxyHandler)

	mux := http.NewServeMux()
	mux.Handle("/healthz", adminHandler)
	mux.Handle("/metrics", adminHandler)
	mux.Handle("/-/", adminHandler)
	mux.Handle("/", proxyHandler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info("aussie gateway listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func seedToRegistration(s config.ServiceSeed) domain.ServiceRegistration {
	endpoints := make([]domain.EndpointConfig, 0, len(s.Endpoints))
	for _, e := range s.Endpoints {
		endpoints = append(endpoints, domain.EndpointConfig{
			Path:         e.Path,
			Methods:      e.Methods,
			Visibility:   domain.Visibility(e.Visibility),
			PathRewrite:  e.PathRewrite,
			AuthRequired: e.AuthRequired,
			Type:         domain.EndpointType(e.Type),
			Operation:    e.Operation,
		})
	}
	return domain.ServiceRegistration{
		ServiceID:           s.ServiceID,
		DisplayName:         s.DisplayName,
		BaseURL:             s.BaseURL,
		RoutePrefix:         s.RoutePrefix,
		DefaultVisibility:   domain.Visibility(s.DefaultVisibility),
		DefaultAuthRequired: s.DefaultAuthRequired,
		Endpoints:           endpoints,
	}
}
