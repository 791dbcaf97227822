package wsbridge

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, nil))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// echoServer upgrades every connection and echoes back whatever it reads.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestBridgeRelaysMessagesBothDirections(t *testing.T) {
	backend := echoServer(t)
	defer backend.Close()
	backendWSURL := "ws" + strings.TrimPrefix(backend.URL, "http")

	upgrader := NewUpgrader(Config{MaxMessageSize: 64 * 1024}, nil, newTestLogger())

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = upgrader.Bridge(w, r, backendWSURL, nil)
	}))
	defer gateway.Close()

	gatewayWSURL := "ws" + strings.TrimPrefix(gateway.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(gatewayWSURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer clientConn.Close()

	if err := clientConn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected echoed message, got %q", data)
	}
}

func TestProxySessionIdleTimeoutClosesBothSides(t *testing.T) {
	backend := echoServer(t)
	defer backend.Close()
	backendWSURL := "ws" + strings.TrimPrefix(backend.URL, "http")

	upgrader := NewUpgrader(Config{IdleTimeout: 100 * time.Millisecond}, nil, newTestLogger())

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = upgrader.Bridge(w, r, backendWSURL, nil)
	}))
	defer gateway.Close()

	gatewayWSURL := "ws" + strings.TrimPrefix(gateway.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(gatewayWSURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer clientConn.Close()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = clientConn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed by idle timeout")
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		if ce.Code != websocket.CloseNormalClosure {
			t.Fatalf("expected normal closure code, got %d", ce.Code)
		}
	}
}

func TestProxySessionPongTimeoutClosesWithProtocolError(t *testing.T) {
	backend := echoServer(t)
	defer backend.Close()
	backendWSURL := "ws" + strings.TrimPrefix(backend.URL, "http")

	upgrader := NewUpgrader(Config{
		PingEnabled:  true,
		PingInterval: 30 * time.Millisecond,
		PingTimeout:  80 * time.Millisecond,
	}, nil, newTestLogger())

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = upgrader.Bridge(w, r, backendWSURL, nil)
	}))
	defer gateway.Close()

	gatewayWSURL := "ws" + strings.TrimPrefix(gateway.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(gatewayWSURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer clientConn.Close()

	// Simulate a half-open peer: the TCP socket stays writable but the peer
	// never answers a ping with a pong.
	clientConn.SetPingHandler(func(string) error { return nil })

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = clientConn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed by pong timeout")
	}
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if ce.Code != websocket.CloseProtocolError {
		t.Fatalf("expected protocol error close code, got %d", ce.Code)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	backend := echoServer(t)
	defer backend.Close()
	backendWSURL := "ws" + strings.TrimPrefix(backend.URL, "http")
	dialer := websocket.DefaultDialer
	backendConn, _, err := dialer.Dial(backendWSURL, nil)
	if err != nil {
		t.Fatalf("dial backend: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, _ := up.Upgrade(w, r, nil)
		sess := NewProxySession(conn, backendConn, Config{}, nil, newTestLogger())
		sess.Close(websocket.CloseNormalClosure, "first")
		sess.Close(websocket.CloseNormalClosure, "second")
		if !sess.IsClosed() {
			t.Error("expected session to report closed")
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer clientConn.Close()
}
