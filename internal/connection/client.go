package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebsocketConfig configures the gorilla/websocket transport.
type WebsocketConfig struct {
	HandshakeTimeout time.Duration // Bounds the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound message size (0 = unlimited)
	Header           http.Header   // Extra handshake headers
	Binary           bool          // Send binary frames instead of text
}

// DefaultWebsocketConfig returns sensible defaults.
func DefaultWebsocketConfig() WebsocketConfig {
	return WebsocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WebsocketDialer dials ws:// and wss:// endpoints.
type WebsocketDialer struct {
	cfg    WebsocketConfig
	logger *slog.Logger
}

// NewWebsocketDialer creates a dialer.
func NewWebsocketDialer(cfg WebsocketConfig, logger *slog.Logger) *WebsocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &WebsocketDialer{cfg: cfg, logger: logger}
}

// Dial validates endpoint and starts connecting in the background.
func (d *WebsocketDialer) Dial(endpoint string, events Events) (Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	c := &client{
		id:     id,
		url:    u.String(),
		cfg:    d.cfg,
		events: events,
		logger: d.logger.With("transport_id", id),
		cancel: cancel,
	}

	go c.run(ctx)

	return c, nil
}

// client is one WebSocket handle.
type client struct {
	id     string
	url    string
	cfg    WebsocketConfig
	events Events
	logger *slog.Logger
	cancel context.CancelFunc

	conn *websocket.Conn
	raw  net.Conn // socket under the handshake; set before conn exists

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// ID returns the handle ID.
func (c *client) ID() string {
	return c.id
}

// Close closes the handle. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	raw := c.raw
	c.mu.Unlock()

	// cancel aborts the TCP dial; closing raw aborts a handshake in progress.
	c.cancel()

	if conn == nil {
		if raw != nil {
			raw.Close()
		}
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

// Send writes payload as a single message.
func (c *client) Send(payload []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	msgType := websocket.TextMessage
	if c.cfg.Binary {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(msgType, payload)
}

// run dials, emits Open, then reads until the connection ends.
// It always finishes by emitting Close.
func (c *client) run(ctx context.Context) {
	defer c.cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		NetDialContext:   c.dialSocket,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, c.cfg.Header)
	if err != nil {
		if c.isClosed() {
			c.emitClose(nil)
			return
		}
		c.logger.Debug("websocket dial failed", "url", c.url, "error", err)
		c.emitError(err)
		c.emitClose(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.emitClose(nil)
		return
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.logger.Debug("websocket connected", "url", c.url)
	if c.events.Open != nil {
		c.events.Open()
	}

	c.readLoop(conn)
}

// dialSocket opens the TCP socket and records it so Close can abort the handshake.
func (c *client) dialSocket(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		raw.Close()
		return nil, net.ErrClosed
	}
	c.raw = raw
	return raw, nil
}

// readLoop delivers messages until a read fails.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.closed
			c.connected = false
			c.mu.Unlock()

			conn.Close()

			switch {
			case local:
				c.emitClose(nil)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Debug("peer closed connection", "error", err)
				c.emitClose(err)
			default:
				c.logger.Debug("websocket read failed", "error", err)
				c.emitError(err)
				c.emitClose(err)
			}
			return
		}

		if c.events.Message != nil {
			c.events.Message(data)
		}
	}
}

func (c *client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *client) emitError(err error) {
	if c.events.Error != nil {
		c.events.Error(err)
	}
}

func (c *client) emitClose(err error) {
	if c.events.Close != nil {
		c.events.Close(err)
	}
}
