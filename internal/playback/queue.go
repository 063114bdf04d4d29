package playback

import "sync"

// DisconnectQueue hands recipient disconnects from network goroutines to the
// control goroutine. It is a fixed-size ring safe for concurrent producers
// and a single consumer; the scheduler drains it once per tick.
type DisconnectQueue struct {
	mu      sync.Mutex
	data    []string
	head    int
	tail    int
	count   int
	dropped uint64

	onOverflow func(id string)
}

// NewDisconnectQueue constructs a queue holding up to capacity pending
// disconnects. onOverflow, when non-nil, is called outside the lock for every
// rejected push.
func NewDisconnectQueue(capacity int, onOverflow func(id string)) *DisconnectQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &DisconnectQueue{
		data:       make([]string, capacity),
		onOverflow: onOverflow,
	}
}

// Push stages a disconnect for recipient id, returning false if the queue is
// full. A dropped notice is not fatal: dispatch-time liveness checks still
// remove the recipient on its next frame.
func (q *DisconnectQueue) Push(id string) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	if q.count == len(q.data) {
		q.dropped++
		q.mu.Unlock()
		if q.onOverflow != nil {
			q.onOverflow(id)
		}
		return false
	}
	q.data[q.tail] = id
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.mu.Unlock()
	return true
}

// Drain returns all staged IDs in FIFO order and clears the queue.
func (q *DisconnectQueue) Drain() []string {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	ids := make([]string, q.count)
	for i := range q.count {
		idx := (q.head + i) % len(q.data)
		ids[i] = q.data[idx]
		q.data[idx] = ""
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	return ids
}

// Len reports the number of staged disconnects.
func (q *DisconnectQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped reports how many pushes were rejected because the queue was full.
func (q *DisconnectQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
