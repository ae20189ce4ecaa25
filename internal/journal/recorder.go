package journal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/wskeeper/internal/connection"
)

// Recorder fans manager hook calls out to subscribed queues.
type Recorder struct {
	session string
	logger  *slog.Logger

	mu     sync.RWMutex
	queues []*Queue[Entry]
	closed bool
	counts map[Kind]int64
}

// RecorderStats reports what a Recorder has seen.
type RecorderStats struct {
	Session     string
	Subscribers int
	Counts      map[Kind]int64
	Dropped     int64
}

// NewRecorder creates a recorder. An empty session gets a random ID.
func NewRecorder(session string, logger *slog.Logger) *Recorder {
	if session == "" {
		session = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		session: session,
		logger:  logger.With("session", session),
		counts:  make(map[Kind]int64),
	}
}

// Session returns the session ID stamped on every entry.
func (r *Recorder) Session() string {
	return r.session
}

// Subscribe registers a new queue holding at most limit entries
// (unbounded if limit <= 0). Entries recorded before the call are not replayed.
func (r *Recorder) Subscribe(limit int) *Queue[Entry] {
	initial := 64
	if limit > 0 && limit < initial {
		initial = limit
	}
	q := NewQueue[Entry](initial, limit)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		q.Close()
		return q
	}
	r.queues = append(r.queues, q)
	return q
}

// Record stamps e and delivers it to every subscriber. Never blocks.
func (r *Recorder) Record(e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e.Session = r.session

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.counts[e.Kind]++
	queues := r.queues
	r.mu.Unlock()

	for _, q := range queues {
		q.Send(e)
	}
}

// Hooks wraps next so every call is recorded before next runs.
func (r *Recorder) Hooks(next connection.Hooks) connection.Hooks {
	return connection.Hooks{
		OnOpen: func() {
			r.Record(Entry{Kind: KindOpen})
			if next.OnOpen != nil {
				next.OnOpen()
			}
		},
		OnClose: func(err error) {
			r.Record(Entry{Kind: KindClose, Error: errString(err)})
			if next.OnClose != nil {
				next.OnClose(err)
			}
		},
		OnError: func(err error) {
			r.Record(Entry{Kind: KindError, Error: errString(err)})
			if next.OnError != nil {
				next.OnError(err)
			}
		},
		OnMessage: func(payload []byte) {
			r.Record(Entry{Kind: KindMessage, Payload: append([]byte(nil), payload...)})
			if next.OnMessage != nil {
				next.OnMessage(payload)
			}
		},
		OnReconnect: func(attempt int) {
			r.Record(Entry{Kind: KindReconnect, Attempt: attempt})
			if next.OnReconnect != nil {
				next.OnReconnect(attempt)
			}
		},
		OnGiveUp: func(attempts int) {
			r.logger.Warn("channel gave up", "attempts", attempts)
			r.Record(Entry{Kind: KindGiveUp, Attempt: attempts})
			if next.OnGiveUp != nil {
				next.OnGiveUp(attempts)
			}
		},
	}
}

// Close closes every subscribed queue. Later records are discarded.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, q := range r.queues {
		q.Close()
	}
}

// Stats returns a snapshot of recorder statistics.
func (r *Recorder) Stats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Kind]int64, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	var dropped int64
	for _, q := range r.queues {
		dropped += q.Stats().Dropped
	}
	return RecorderStats{
		Session:     r.session,
		Subscribers: len(r.queues),
		Counts:      counts,
		Dropped:     dropped,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
