// Package wsbridge implements the bidirectional WebSocket proxy bridge
// (spec.md §4.6), grounded on sylvester-francis-Watchdog's
// internal/core/realtime/client.go read/write-pump pattern (ping/pong
// deadlines, close-once semantics) generalized from a hub-broadcast client
// into a 1:1 client<->backend relay with no hub.
package wsbridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// CloseMessageRateLimit is the vendor-space close code used when a
// connection's message rate exceeds its configured limit — a mirror of
// HTTP 429 in the WebSocket close-code vendor range (spec.md §4.6).
const CloseMessageRateLimit = 4429

// Config tunes a ProxySession's lifecycle timers (spec.md §6 "WebSocket").
type Config struct {
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	PingEnabled    bool
	PingInterval   time.Duration
	PingTimeout    time.Duration
	MaxMessageSize int64
}

// RateLimiter is the narrow slice of domain.RateLimitStore the bridge needs
// for per-connection message-rate checks.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, canonicalKey string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error)
}

// MessageRateLimit, when non-zero, is checked against every inbound frame
// from either side via RateLimiter.
type MessageRateLimit struct {
	Limiter      RateLimiter
	Limit        domain.EffectiveRateLimit
	ClientID     string
	ServiceID    string
	ConnectionID string
}

// ProxySession owns both the client-facing and backend WebSocket
// connections and couples their lifecycles: closing one side (for any
// reason) closes the other with a matching code/reason (spec.md §4.6's
// "Lifecycle coupling").
type ProxySession struct {
	client  *websocket.Conn
	backend *websocket.Conn
	cfg     Config
	rl      *MessageRateLimit
	logger  *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}

	lastActivity    atomic.Int64 // unix nano, reset on any message either direction
	lastClientPong  atomic.Int64 // unix nano, reset by client's pong handler
	lastBackendPong atomic.Int64 // unix nano, reset by backend's pong handler
}

// NewProxySession wires a client and backend connection together.
func NewProxySession(client, backend *websocket.Conn, cfg Config, rl *MessageRateLimit, logger *slog.Logger) *ProxySession {
	s := &ProxySession{
		client:  client,
		backend: backend,
		cfg:     cfg,
		rl:      rl,
		logger:  logger,
		done:    make(chan struct{}),
	}
	now := time.Now().UnixNano()
	s.lastActivity.Store(now)
	s.lastClientPong.Store(now)
	s.lastBackendPong.Store(now)
	if cfg.MaxMessageSize > 0 {
		client.SetReadLimit(cfg.MaxMessageSize)
		backend.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PingEnabled {
		client.SetPongHandler(func(string) error {
			s.lastClientPong.Store(time.Now().UnixNano())
			return nil
		})
		backend.SetPongHandler(func(string) error {
			s.lastBackendPong.Store(time.Now().UnixNano())
			return nil
		})
	}
	return s
}

// Run blocks until the session ends, relaying frames in both directions
// and enforcing the idle/max-lifetime/ping timers. ctx cancellation (e.g.
// the inbound request's client-disconnect signal) also ends the session.
func (s *ProxySession) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.relay(s.client, s.backend, "client->backend") }()
	go func() { defer wg.Done(); s.relay(s.backend, s.client, "backend->client") }()

	timers := s.startTimers(ctx)
	defer timers.stop()

	wg.Wait()
	s.Close(websocket.CloseNormalClosure, "session ended")
}

// relay pumps frames from src to dst until an error or Close.
func (s *ProxySession) relay(src, dst *websocket.Conn, direction string) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		msgType, data, err := src.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			s.Close(code, reason)
			return
		}
		s.lastActivity.Store(time.Now().UnixNano())

		if s.rl != nil {
			if !s.checkMessageRate() {
				s.Close(CloseMessageRateLimit, "message rate limit exceeded")
				return
			}
		}

		if err := dst.WriteMessage(msgType, data); err != nil {
			s.logger.Warn("wsbridge: write failed", slog.String("direction", direction), slog.String("error", err.Error()))
			s.Close(websocket.CloseInternalServerErr, "relay write failed")
			return
		}
	}
}

func (s *ProxySession) checkMessageRate() bool {
	decision, err := s.rl.Limiter.CheckAndConsume(context.Background(), s.rl.canonicalKey(), s.rl.Limit, time.Now().UnixMilli())
	if err != nil {
		// Fail-open: a rate-limit store outage never drops a live socket.
		s.logger.Warn("wsbridge: rate limit check failed, allowing", slog.String("error", err.Error()))
		return true
	}
	return decision.Allowed
}

func (r *MessageRateLimit) canonicalKey() string {
	return domain.WSMessageKey(r.ClientID, r.ServiceID, r.ConnectionID).Canonical()
}

type timerSet struct {
	stopCh chan struct{}
	once   sync.Once
}

func (t *timerSet) stop() {
	t.once.Do(func() { close(t.stopCh) })
}

// startTimers runs the idle, max-lifetime, and ping timers in a background
// goroutine, closing the session with the matching code/reason per
// spec.md §4.6's three timer definitions.
func (s *ProxySession) startTimers(ctx context.Context) *timerSet {
	ts := &timerSet{stopCh: make(chan struct{})}

	go func() {
		var idleTicker, pingTicker *time.Ticker
		var lifetimeTimer *time.Timer

		if s.cfg.IdleTimeout > 0 {
			idleTicker = time.NewTicker(s.cfg.IdleTimeout / 4)
			defer idleTicker.Stop()
		}
		if s.cfg.MaxLifetime > 0 {
			lifetimeTimer = time.NewTimer(s.cfg.MaxLifetime)
			defer lifetimeTimer.Stop()
		}
		if s.cfg.PingEnabled && s.cfg.PingInterval > 0 {
			pingTicker = time.NewTicker(s.cfg.PingInterval)
			defer pingTicker.Stop()
		}

		idleCh := neverChan[time.Time]()
		if idleTicker != nil {
			idleCh = idleTicker.C
		}
		lifetimeCh := neverChan[time.Time]()
		if lifetimeTimer != nil {
			lifetimeCh = lifetimeTimer.C
		}
		pingCh := neverChan[time.Time]()
		if pingTicker != nil {
			pingCh = pingTicker.C
		}

		for {
			select {
			case <-ts.stopCh:
				return
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close(websocket.CloseGoingAway, "request cancelled")
				return
			case <-lifetimeCh:
				s.Close(websocket.CloseNormalClosure, "Max lifetime exceeded")
				return
			case <-idleCh:
				if s.idleFor() >= s.cfg.IdleTimeout {
					s.Close(websocket.CloseNormalClosure, "Idle timeout exceeded")
					return
				}
			case <-pingCh:
				if s.pongOverdue() {
					s.Close(websocket.CloseProtocolError, "pong timeout exceeded")
					return
				}
				if err := s.ping(); err != nil {
					s.Close(websocket.CloseProtocolError, "ping failed")
					return
				}
			}
		}
	}()

	return ts
}

func (s *ProxySession) idleFor() time.Duration {
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last)
}

// ping issues a ping control frame to both legs. A write error (the socket
// already broken) closes the session immediately via the caller.
func (s *ProxySession) ping() error {
	deadline := time.Now().Add(writeWait)
	if err := s.client.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return err
	}
	return s.backend.WriteControl(websocket.PingMessage, nil, deadline)
}

// pongOverdue reports whether either leg has gone longer than PingTimeout
// since its last pong, covering the half-open-peer case a ping write alone
// cannot detect: the TCP socket stays writable even though the peer has
// stopped answering (spec.md §4.6 Timers(3)).
func (s *ProxySession) pongOverdue() bool {
	if s.cfg.PingTimeout <= 0 {
		return false
	}
	now := time.Now()
	if now.Sub(time.Unix(0, s.lastClientPong.Load())) > s.cfg.PingTimeout {
		return true
	}
	if now.Sub(time.Unix(0, s.lastBackendPong.Load())) > s.cfg.PingTimeout {
		return true
	}
	return false
}

// Close idempotently closes both sockets with code/reason.
func (s *ProxySession) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		closeMsg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(writeWait)
		_ = s.client.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		_ = s.backend.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		_ = s.client.Close()
		_ = s.backend.Close()
	})
}

// IsClosed reports whether the session has already closed.
func (s *ProxySession) IsClosed() bool { return s.closed.Load() }

const writeWait = 10 * time.Second

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func neverChan[T any]() <-chan T {
	return make(chan T)
}
