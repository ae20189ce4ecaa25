package connection

// Transport is one physical connection attempt.
type Transport interface {
	// ID identifies the handle in logs and journals.
	ID() string

	// Send writes one message. Returns ErrNotConnected unless the handle is open.
	Send(payload []byte) error

	// Close closes the handle, aborting the dial if it is still connecting.
	// The handle's final Close event follows asynchronously.
	Close() error
}

// Events are the observers registered on a handle when it is dialed.
//
// A handle emits at most one Open and exactly one Close, and Close is always
// its last event. Error may precede Close.
type Events struct {
	Open    func()
	Close   func(err error)
	Error   func(err error)
	Message func(payload []byte)
}

// Dialer creates transport handles.
type Dialer interface {
	// Dial returns a handle bound to endpoint. It must not block on I/O:
	// the connection is opened in the background and reported through events.
	// An error means no handle was created and no events will follow.
	Dial(endpoint string, events Events) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(endpoint string, events Events) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(endpoint string, events Events) (Transport, error) {
	return f(endpoint, events)
}
