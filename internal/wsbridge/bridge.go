package wsbridge

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Upgrader wraps websocket.Upgrader with the gateway's CORS/origin policy
// and dials the backend on successful upgrade, standing up a ProxySession.
type Upgrader struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	cfg      Config
	logger   *slog.Logger
}

// NewUpgrader builds an Upgrader. checkOrigin, when non-nil, replaces the
// default same-origin check.
func NewUpgrader(cfg Config, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Bridge upgrades the inbound client connection, dials targetURL on the
// backend, and runs a ProxySession connecting the two until either side
// closes. An http/https targetURL is dialed as ws/wss. Forwarding headers already
// attached to the outbound request by the caller are replayed to the
// backend dial.
func (u *Upgrader) Bridge(w http.ResponseWriter, r *http.Request, targetURL string, rl *MessageRateLimit) error {
	backendURL, err := toWebSocketURL(targetURL)
	if err != nil {
		http.Error(w, "invalid upstream url", http.StatusBadGateway)
		return err
	}

	backendHeaders := make(http.Header)
	for k, v := range r.Header {
		if isHopByHopOrUpgrade(k) {
			continue
		}
		backendHeaders[k] = v
	}

	backendConn, resp, err := u.dialer.DialContext(r.Context(), backendURL, backendHeaders)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "upstream websocket dial failed", status)
		return err
	}

	clientConn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = backendConn.Close()
		return err
	}

	if rl != nil && rl.ConnectionID == "" {
		rl.ConnectionID = uuid.NewString()
	}

	sess := NewProxySession(clientConn, backendConn, u.cfg, rl, u.logger)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.Run(ctx)
	return nil
}

func toWebSocketURL(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func isHopByHopOrUpgrade(header string) bool {
	switch strings.ToLower(header) {
	case "connection", "upgrade", "sec-websocket-key", "sec-websocket-version",
		"sec-websocket-extensions", "sec-websocket-protocol":
		return true
	default:
		return false
	}
}
