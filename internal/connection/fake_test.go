package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var errRefused = errors.New("connection refused")

// fakeTransport is a handle driven by the test.
type fakeTransport struct {
	id     string
	events Events

	mu         sync.Mutex
	open       bool
	closed     bool
	sent       [][]byte
	sentAt     []time.Time
	closeCalls int
	closedAt   time.Time

	// silentClose suppresses the close event, as if it were still in flight.
	silentClose bool
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open || f.closed {
		return ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	f.sentAt = append(f.sentAt, time.Now())
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closeCalls++
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.open = false
	f.closedAt = time.Now()
	silent := f.silentClose
	f.mu.Unlock()

	if !silent {
		go f.events.Close(nil)
	}
	return nil
}

// Open simulates a successful handshake.
func (f *fakeTransport) Open() {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	f.events.Open()
}

// Receive simulates an inbound message.
func (f *fakeTransport) Receive(payload string) {
	f.events.Message([]byte(payload))
}

// Fail simulates a broken connection: error followed by close.
func (f *fakeTransport) Fail(err error) {
	f.mu.Lock()
	f.closed = true
	f.open = false
	f.mu.Unlock()
	f.events.Error(err)
	f.events.Close(err)
}

// ReportError emits an error event and leaves the handle open.
func (f *fakeTransport) ReportError(err error) {
	f.events.Error(err)
}

// IsOpen reports whether the handle is open and not closed.
func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open && !f.closed
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = string(p)
	}
	return out
}

func (f *fakeTransport) SentAt() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sentAt...)
}

func (f *fakeTransport) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeTransport) ClosedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedAt
}

// fakeDialer hands out fakeTransports.
type fakeDialer struct {
	mu      sync.Mutex
	handles []*fakeTransport
	dialAt  []time.Time
	dials   int

	// syncErr makes Dial fail without creating a handle.
	syncErr error

	// onDial runs in its own goroutine for every created handle.
	onDial func(i int, t *fakeTransport)

	// silentClose is copied onto every created handle.
	silentClose bool
}

func (d *fakeDialer) Dial(endpoint string, events Events) (Transport, error) {
	d.mu.Lock()
	d.dials++
	d.dialAt = append(d.dialAt, time.Now())
	if d.syncErr != nil {
		err := d.syncErr
		d.mu.Unlock()
		return nil, err
	}
	t := &fakeTransport{
		id:          fmt.Sprintf("fake-%d", len(d.handles)+1),
		events:      events,
		silentClose: d.silentClose,
	}
	d.handles = append(d.handles, t)
	i := len(d.handles) - 1
	onDial := d.onDial
	d.mu.Unlock()

	if onDial != nil {
		go onDial(i, t)
	}
	return t, nil
}

func (d *fakeDialer) setSyncErr(err error) {
	d.mu.Lock()
	d.syncErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) setOnDial(fn func(i int, t *fakeTransport)) {
	d.mu.Lock()
	d.onDial = fn
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) DialAt() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dialAt...)
}

func (d *fakeDialer) Handle(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.handles) {
		return nil
	}
	return d.handles[i]
}

func autoOpen(i int, t *fakeTransport) { t.Open() }

func autoFail(i int, t *fakeTransport) { t.Fail(errRefused) }

// hookRecorder counts hook invocations.
type hookRecorder struct {
	mu          sync.Mutex
	opens       int
	closes      int
	errs        int
	giveUps     int
	reconnects  []int
	reconnectAt []time.Time
	messages    []string
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnClose: func(error) {
			r.mu.Lock()
			r.closes++
			r.mu.Unlock()
		},
		OnError: func(error) {
			r.mu.Lock()
			r.errs++
			r.mu.Unlock()
		},
		OnMessage: func(p []byte) {
			r.mu.Lock()
			r.messages = append(r.messages, string(p))
			r.mu.Unlock()
		},
		OnReconnect: func(attempt int) {
			r.mu.Lock()
			r.reconnects = append(r.reconnects, attempt)
			r.reconnectAt = append(r.reconnectAt, time.Now())
			r.mu.Unlock()
		},
		OnGiveUp: func(int) {
			r.mu.Lock()
			r.giveUps++
			r.mu.Unlock()
		},
	}
}

func (r *hookRecorder) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func (r *hookRecorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *hookRecorder) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

func (r *hookRecorder) GiveUps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.giveUps
}

func (r *hookRecorder) Reconnects() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.reconnects...)
}

func (r *hookRecorder) ReconnectAt() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.reconnectAt...)
}

func (r *hookRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
