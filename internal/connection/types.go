package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrMissingEndpoint = errors.New("endpoint is required")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrDial            = errors.New("dial failed")
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Default values for optional Config fields.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultPongDeadline      = 10 * time.Second
	DefaultReconnectBackoff  = 2 * time.Second
	DefaultHeartbeatPayload  = "ping"
)

// Config configures a Manager. It is copied at construction and never mutated.
type Config struct {
	Endpoint             string        // WebSocket URL (e.g., wss://example.com/ws)
	HeartbeatInterval    time.Duration // Silence before a ping is sent
	PongDeadline         time.Duration // Time after a ping before the peer is considered dead
	ReconnectBackoff     time.Duration // Fixed delay before each reconnect attempt
	HeartbeatPayload     []byte        // Sent as an ordinary message on each ping
	MaxReconnectAttempts int           // <= 0 means unlimited
}

// DefaultConfig returns sensible defaults. Endpoint must still be set.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PongDeadline:      DefaultPongDeadline,
		ReconnectBackoff:  DefaultReconnectBackoff,
		HeartbeatPayload:  []byte(DefaultHeartbeatPayload),
	}
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PongDeadline <= 0 {
		c.PongDeadline = DefaultPongDeadline
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if len(c.HeartbeatPayload) == 0 {
		c.HeartbeatPayload = []byte(DefaultHeartbeatPayload)
	} else {
		c.HeartbeatPayload = append([]byte(nil), c.HeartbeatPayload...)
	}
}

// Hooks are the owner's view of the channel. Nil fields are no-ops.
// All hooks run on the manager's event goroutine, one at a time, and may
// call Send or Close.
type Hooks struct {
	OnOpen func()

	// OnClose receives the close cause, nil for a clean close.
	OnClose   func(err error)
	OnError   func(err error)
	OnMessage func(payload []byte)

	// OnReconnect receives the attempt number, counting from 1 since the last open.
	OnReconnect func(attempt int)

	// OnGiveUp fires once when MaxReconnectAttempts is exhausted.
	OnGiveUp func(attempts int)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnOpen == nil {
		h.OnOpen = func() {}
	}
	if h.OnClose == nil {
		h.OnClose = func(error) {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
	if h.OnMessage == nil {
		h.OnMessage = func([]byte) {}
	}
	if h.OnReconnect == nil {
		h.OnReconnect = func(int) {}
	}
	if h.OnGiveUp == nil {
		h.OnGiveUp = func(int) {}
	}
	return h
}

// State is the coarse lifecycle state reported by Stats.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateGaveUp       State = "gave_up"
	StateClosed       State = "closed"
)

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	State            State
	Attempts         int    // Reconnect attempts since the last successful open
	TransportID      string // Empty when no handle is live
	Opens            int64
	Reconnects       int64
	PingsSent        int64
	DeadlinesExpired int64
	LastMessageAt    time.Time
}
