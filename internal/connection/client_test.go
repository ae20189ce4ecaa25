package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// stalledServer accepts connections but never answers the upgrade request.
func stalledServer(t *testing.T) *httptest.Server {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		server.Close()
	})
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoHandler echoes every message until the peer goes away.
func echoHandler(conn *websocket.Conn) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

// eventLog collects transport events in order.
type eventLog struct {
	mu       sync.Mutex
	kinds    []string
	messages []string
	closeErr error
	opened   chan struct{}
	closed   chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (l *eventLog) events() Events {
	return Events{
		Open: func() {
			l.record("open")
			close(l.opened)
		},
		Close: func(err error) {
			l.mu.Lock()
			l.closeErr = err
			l.mu.Unlock()
			l.record("close")
			close(l.closed)
		},
		Error: func(err error) {
			l.record("error")
		},
		Message: func(p []byte) {
			l.mu.Lock()
			l.messages = append(l.messages, string(p))
			l.mu.Unlock()
			l.record("message")
		},
	}
}

func (l *eventLog) record(kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, kind)
}

func (l *eventLog) Kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.kinds...)
}

func (l *eventLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func (l *eventLog) CloseErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

func waitChan(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestWebsocketDialer_InvalidEndpoint(t *testing.T) {
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "http scheme", endpoint: "http://localhost:8080/ws"},
		{name: "no scheme", endpoint: "localhost:8080"},
		{name: "missing host", endpoint: "ws:///path"},
		{name: "unparseable", endpoint: "ws://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := d.Dial(tt.endpoint, Events{})
			assert.ErrorIs(t, err, ErrInvalidEndpoint)
			assert.Nil(t, tr)
		})
	}
}

func TestClient_OpenSendReceive(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	log := newEventLog()
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	tr, err := d.Dial(wsURL(server), log.events())
	require.NoError(t, err)
	defer tr.Close()

	assert.NotEmpty(t, tr.ID())

	waitChan(t, log.opened, "open")
	require.NoError(t, tr.Send([]byte("hello")))

	require.Eventually(t, func() bool { return len(log.Messages()) > 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "hello", log.Messages()[0])
}

func TestClient_SendNotConnected(t *testing.T) {
	log := newEventLog()
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	// Nothing listens on port 1.
	tr, err := d.Dial("ws://127.0.0.1:1", log.events())
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Send([]byte("test")), ErrNotConnected)

	waitChan(t, log.closed, "close")
}

func TestClient_DialFailureEmitsErrorThenClose(t *testing.T) {
	log := newEventLog()
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	_, err := d.Dial("ws://127.0.0.1:1", log.events())
	require.NoError(t, err)

	waitChan(t, log.closed, "close")

	assert.Equal(t, []string{"error", "close"}, log.Kinds())
	assert.Error(t, log.CloseErr(), "failed dial carries its cause")
}

func TestClient_CloseEmitsSingleClose(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	log := newEventLog()
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	tr, err := d.Dial(wsURL(server), log.events())
	require.NoError(t, err)
	waitChan(t, log.opened, "open")

	assert.NoError(t, tr.Close())
	// Second close is a no-op
	assert.NoError(t, tr.Close())

	waitChan(t, log.closed, "close")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"open", "close"}, log.Kinds())
	assert.NoError(t, log.CloseErr(), "local close is clean")
	assert.ErrorIs(t, tr.Send([]byte("x")), ErrNotConnected)
}

func TestClient_CloseAbortsHandshake(t *testing.T) {
	server := stalledServer(t)

	cfg := DefaultWebsocketConfig()
	cfg.HandshakeTimeout = 5 * time.Second

	log := newEventLog()
	tr, err := NewWebsocketDialer(cfg, nil).Dial(wsURL(server), log.events())
	require.NoError(t, err)

	// Let the TCP connect finish so the handshake is in progress.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, tr.Close())

	waitChan(t, log.closed, "close")
	assert.Less(t, time.Since(start), time.Second, "close must not wait for the handshake timeout")
	assert.Equal(t, []string{"close"}, log.Kinds())
	assert.NoError(t, log.CloseErr())
}

func TestClient_PeerNormalClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	log := newEventLog()
	d := NewWebsocketDialer(DefaultWebsocketConfig(), nil)

	_, err := d.Dial(wsURL(server), log.events())
	require.NoError(t, err)

	waitChan(t, log.closed, "close")
	assert.NotContains(t, log.Kinds(), "error", "normal closure emits no error")
}

func TestClient_HandshakeHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		echoHandler(conn)
	}))
	defer server.Close()

	cfg := DefaultWebsocketConfig()
	cfg.Header = http.Header{"Authorization": []string{"Bearer token"}}

	log := newEventLog()
	tr, err := NewWebsocketDialer(cfg, nil).Dial(wsURL(server), log.events())
	require.NoError(t, err)
	defer tr.Close()

	waitChan(t, log.opened, "open")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer token", gotAuth)
}

func TestDefaultWebsocketConfig(t *testing.T) {
	cfg := DefaultWebsocketConfig()
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestManager_WebsocketEchoKeepsAlive(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	var mu sync.Mutex
	var pongs int
	m, err := New(Config{
		Endpoint:          wsURL(server),
		HeartbeatInterval: 30 * time.Millisecond,
		PongDeadline:      100 * time.Millisecond,
		ReconnectBackoff:  10 * time.Millisecond,
	}, Hooks{
		OnMessage: func(p []byte) {
			if string(p) == "ping" {
				mu.Lock()
				pongs++
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)
	defer closeManager(t, m)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pongs >= 3
	}, 3*time.Second, 5*time.Millisecond)

	stats := m.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, int64(1), stats.Opens)
	assert.Zero(t, stats.DeadlinesExpired)
}

func TestManager_WebsocketSilentPeerReconnects(t *testing.T) {
	// Reads everything, answers nothing.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m, err := New(Config{
		Endpoint:          wsURL(server),
		HeartbeatInterval: 30 * time.Millisecond,
		PongDeadline:      30 * time.Millisecond,
		ReconnectBackoff:  10 * time.Millisecond,
	}, Hooks{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Stats().Opens >= 2 }, 3*time.Second, 5*time.Millisecond)

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.DeadlinesExpired, int64(1))
	assert.GreaterOrEqual(t, stats.Reconnects, int64(1))

	closeManager(t, m)
	assert.Equal(t, StateClosed, m.Stats().State)
}

func TestManager_CloseDuringHandshakeFinishesPromptly(t *testing.T) {
	server := stalledServer(t)

	cfg := DefaultWebsocketConfig()
	cfg.HandshakeTimeout = 3 * time.Second

	m, err := New(Config{Endpoint: wsURL(server)}, Hooks{},
		WithDialer(NewWebsocketDialer(cfg, nil)))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Close())

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed before the handshake timeout")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, m.Stats().State)
}
