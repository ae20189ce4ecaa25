package journal

import "sync"

// Queue is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full. With a limit set, growth stops at the limit and
// Send evicts the oldest item instead of blocking.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	limit  int
	closed bool

	received int64
	sent     int64
	dropped  int64
	resizes  int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count         int
	Capacity      int
	Limit         int
	TotalReceived int64
	TotalSent     int64
	Dropped       int64
	ResizeCount   int
}

// NewQueue creates a queue with the given initial capacity.
// limit <= 0 means unbounded.
func NewQueue[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	q := &Queue[T]{
		ring:  make([]T, initialCapacity),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends item. Returns false if the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max(len(q.ring)*70/100, 1)
	if q.count+1 >= threshold && q.canGrow() {
		q.resize(min(len(q.ring)*2, q.capOrUnbounded()))
	}

	if q.count == len(q.ring) {
		// At the limit: evict the oldest.
		q.popLocked()
		q.dropped++
		q.sent--
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.received++

	q.cond.Signal()
	return true
}

// Receive blocks until an item is available or the queue is closed.
// Returns the zero value and false once closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// TryReceive returns the next item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// DrainTo removes up to n items (all of them if n <= 0).
func (q *Queue[T]) DrainTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close stops accepting items and wakes blocked receivers.
// Items already queued can still be received.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:         q.count,
		Capacity:      len(q.ring),
		Limit:         q.limit,
		TotalReceived: q.received,
		TotalSent:     q.sent,
		Dropped:       q.dropped,
		ResizeCount:   q.resizes,
	}
}

// popLocked removes the head item. Caller holds mu and count > 0.
func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.sent++
	return item
}

func (q *Queue[T]) canGrow() bool {
	return q.limit <= 0 || len(q.ring) < q.limit
}

func (q *Queue[T]) capOrUnbounded() int {
	if q.limit <= 0 {
		return len(q.ring) * 2
	}
	return q.limit
}

// resize moves the items into a ring of size n, unwrapping them.
func (q *Queue[T]) resize(n int) {
	next := make([]T, n)
	for i := 0; i < q.count; i++ {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
	q.resizes++
}
