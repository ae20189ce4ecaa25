package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager keeps one logical channel connected to a single endpoint.
//
// It owns at most one transport handle at a time, replaces it after a fixed
// backoff whenever it closes or errors, and checks liveness with a heartbeat.
// Every transition runs on one event goroutine, so handlers never overlap.
type Manager struct {
	cfg    Config
	hooks  Hooks
	dialer Dialer
	logger *slog.Logger

	// Event loop
	inbox    chan func()
	done     chan struct{}
	doneOnce sync.Once

	mu sync.Mutex

	// Current handle. seq identifies it; events tagged with an older seq are dropped.
	seq       uint64
	transport Transport
	open      bool

	// Reconnect state
	attempts       int
	reconnecting   bool // in-flight guard
	forbidden      bool // set by Close, terminal
	gaveUp         bool
	reconnectTimer *time.Timer
	reconnectGen   uint64

	// Heartbeat state
	pingTimer     *time.Timer
	deadlineTimer *time.Timer
	heartbeatGen  uint64

	// Counters
	opens            int64
	reconnects       int64
	pingsSent        int64
	deadlinesExpired int64
	lastMessageAt    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDialer sets the transport dialer. The default is a WebsocketDialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// New validates cfg and immediately starts connecting.
//
// A missing endpoint returns ErrMissingEndpoint and no manager. If the first
// transport cannot even be created, New returns the manager together with an
// error wrapping ErrDial: a reconnect is already scheduled, and the caller
// must Close the manager to stop it.
func New(cfg Config, hooks Hooks, opts ...Option) (*Manager, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:    cfg,
		hooks:  hooks.withDefaults(),
		logger: slog.Default(),
		inbox:  make(chan func(), 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("endpoint", cfg.Endpoint)
	if m.dialer == nil {
		m.dialer = NewWebsocketDialer(DefaultWebsocketConfig(), m.logger)
	}

	go m.loop()

	var err error
	m.call(func() {
		if err = m.connect(); err != nil {
			m.reconnect()
		}
	})

	return m, err
}

// Send forwards payload verbatim to the current transport.
// Returns ErrNotConnected when no handle is live. Nothing is queued.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Send(payload)
}

// Close stops the channel for good: no further pings, deadlines or
// reconnects. The live handle is closed and its Close event still reaches
// OnClose. Done is closed once that event has been handled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.forbidden {
		m.mu.Unlock()
		return nil
	}
	m.forbidden = true
	m.stopHeartbeatLocked()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectGen++
	m.reconnecting = false
	t := m.transport
	m.mu.Unlock()

	m.logger.Info("closing connection manager")

	if t == nil {
		m.finish()
		return nil
	}
	return t.Close()
}

// Done is closed when the manager has shut down after Close.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		State:            m.stateLocked(),
		Attempts:         m.attempts,
		Opens:            m.opens,
		Reconnects:       m.reconnects,
		PingsSent:        m.pingsSent,
		DeadlinesExpired: m.deadlinesExpired,
		LastMessageAt:    m.lastMessageAt,
	}
	if m.transport != nil {
		s.TransportID = m.transport.ID()
	}
	return s
}

func (m *Manager) stateLocked() State {
	switch {
	case m.forbidden:
		return StateClosed
	case m.gaveUp:
		return StateGaveUp
	case m.open:
		return StateOpen
	case m.reconnecting:
		return StateReconnecting
	default:
		return StateConnecting
	}
}

// loop runs every handler, one at a time.
func (m *Manager) loop() {
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.inbox:
			fn()
		}
	}
}

// post queues fn on the event goroutine. Dropped after shutdown.
func (m *Manager) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the event goroutine and waits for it.
func (m *Manager) call(fn func()) {
	ran := make(chan struct{})
	if !m.post(func() {
		defer close(ran)
		fn()
	}) {
		return
	}
	select {
	case <-ran:
	case <-m.done:
	}
}

func (m *Manager) finish() {
	m.doneOnce.Do(func() {
		close(m.done)
	})
}

// connect creates a new handle and registers observers on it.
func (m *Manager) connect() error {
	m.mu.Lock()
	if m.forbidden {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	// A handle that reported an error without closing is retired here,
	// so at most one handle is ever live. Its late events are stale.
	prev := m.transport
	m.seq++
	seq := m.seq
	m.transport = nil
	m.open = false
	m.mu.Unlock()

	if prev != nil {
		m.logger.Debug("retiring previous transport", "transport_id", prev.ID())
		prev.Close()
	}

	t, err := m.dialer.Dial(m.cfg.Endpoint, m.eventsFor(seq))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDial, err)
		m.logger.Warn("transport creation failed", "error", err)
		return err
	}

	m.mu.Lock()
	if m.forbidden {
		// Close won the race while we were dialing.
		m.mu.Unlock()
		t.Close()
		return ErrAlreadyClosed
	}
	m.transport = t
	m.mu.Unlock()

	m.logger.Debug("transport created", "transport_id", t.ID())
	return nil
}

func (m *Manager) eventsFor(seq uint64) Events {
	return Events{
		Open: func() {
			m.post(func() { m.handleOpen(seq) })
		},
		Close: func(err error) {
			m.post(func() { m.handleClose(seq, err) })
		},
		Error: func(err error) {
			m.post(func() { m.handleError(seq, err) })
		},
		Message: func(payload []byte) {
			m.post(func() { m.handleMessage(seq, payload) })
		},
	}
}

func (m *Manager) handleOpen(seq uint64) {
	m.mu.Lock()
	if seq != m.seq || m.forbidden {
		// An open that was already queued when Close ran is not reported.
		m.mu.Unlock()
		return
	}
	m.open = true
	m.attempts = 0
	m.gaveUp = false
	m.opens++
	var id string
	if m.transport != nil {
		id = m.transport.ID()
	}
	m.mu.Unlock()

	m.logger.Info("connection open", "transport_id", id)
	m.hooks.OnOpen()
	m.heartCheck()
}

func (m *Manager) handleClose(seq uint64, err error) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return
	}
	m.open = false
	m.transport = nil
	m.mu.Unlock()

	m.logger.Info("connection closed", "error", err)
	m.heartReset()
	m.hooks.OnClose(err)
	m.reconnect()

	m.mu.Lock()
	forbidden := m.forbidden
	m.mu.Unlock()
	if forbidden {
		m.finish()
	}
}

func (m *Manager) handleError(seq uint64, err error) {
	m.mu.Lock()
	stale := seq != m.seq
	m.mu.Unlock()
	if stale {
		return
	}

	m.logger.Warn("connection error", "error", err)
	m.heartReset()
	m.hooks.OnError(err)
	m.reconnect()
}

func (m *Manager) handleMessage(seq uint64, payload []byte) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return
	}
	m.lastMessageAt = time.Now()
	m.mu.Unlock()

	m.hooks.OnMessage(payload)
	m.heartCheck()
}

// reconnect starts one reconnect sequence unless the attempt limit is
// exhausted, one is already in flight, or Close was called. Close and error
// from the same failed attempt yield one sequence and one increment.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.cfg.MaxReconnectAttempts > 0 && m.attempts >= m.cfg.MaxReconnectAttempts {
		notify := !m.gaveUp && !m.forbidden && !m.reconnecting
		if notify {
			m.gaveUp = true
		}
		attempts := m.attempts
		m.mu.Unlock()

		if notify {
			m.logger.Warn("giving up after max reconnect attempts", "attempts", attempts)
			m.hooks.OnGiveUp(attempts)
		}
		return
	}
	if m.reconnecting || m.forbidden {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.attempts++
	m.reconnects++
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("reconnecting",
		"attempt", attempt,
		"backoff", m.cfg.ReconnectBackoff,
	)
	m.hooks.OnReconnect(attempt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forbidden {
		m.reconnecting = false
		return
	}
	m.reconnectGen++
	gen := m.reconnectGen
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectBackoff, func() {
		m.post(func() { m.retry(gen) })
	})
}

// retry runs when the backoff elapses. The guard is cleared before dialing so
// that the new attempt's own failure can schedule the next one.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.reconnectGen {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.reconnecting = false
	forbidden := m.forbidden
	m.mu.Unlock()

	if forbidden {
		return
	}

	if err := m.connect(); err != nil {
		if errors.Is(err, ErrAlreadyClosed) {
			return
		}
		m.hooks.OnError(err)
		m.reconnect()
	}
}

// heartCheck restarts the heartbeat cycle from a fresh liveness baseline.
func (m *Manager) heartCheck() {
	m.heartReset()
	m.heartStart()
}

func (m *Manager) heartReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHeartbeatLocked()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.deadlineTimer != nil {
		m.deadlineTimer.Stop()
		m.deadlineTimer = nil
	}
	m.heartbeatGen++
}

func (m *Manager) heartStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forbidden {
		return
	}
	gen := m.heartbeatGen
	m.pingTimer = time.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.post(func() { m.ping(gen) })
	})
}

// ping sends the heartbeat payload and arms the pong deadline.
func (m *Manager) ping(gen uint64) {
	m.mu.Lock()
	if gen != m.heartbeatGen || m.forbidden {
		m.mu.Unlock()
		return
	}
	m.pingTimer = nil
	t := m.transport
	if t != nil {
		m.pingsSent++
	}
	m.mu.Unlock()

	if t != nil {
		m.logger.Debug("sending heartbeat", "transport_id", t.ID())
		if err := t.Send(m.cfg.HeartbeatPayload); err != nil {
			m.logger.Debug("failed to send heartbeat", "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.heartbeatGen || m.forbidden {
		return
	}
	m.deadlineTimer = time.AfterFunc(m.cfg.PongDeadline, func() {
		m.post(func() { m.expire(gen) })
	})
}

// expire closes the transport when nothing arrived within the pong deadline.
// Reconnection follows from the resulting close event, never from here.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.heartbeatGen || m.forbidden {
		m.mu.Unlock()
		return
	}
	m.deadlineTimer = nil
	m.deadlinesExpired++
	t := m.transport
	m.mu.Unlock()

	m.logger.Warn("pong deadline exceeded, closing transport",
		"deadline", m.cfg.PongDeadline,
	)
	if t != nil {
		t.Close()
	}
}
