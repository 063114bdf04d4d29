package playback

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestDisconnectQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewDisconnectQueue(4, nil)
	for _, id := range []string{"a", "b", "c"} {
		if !q.Push(id) {
			t.Fatalf("Push(%q) = false", id)
		}
	}
	if got := q.Drain(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Drain = %v", got)
	}
	if q.Len() != 0 || q.Drain() != nil {
		t.Error("queue not empty after Drain")
	}

	// Wrap the ring.
	for _, id := range []string{"d", "e", "f", "g"} {
		q.Push(id)
	}
	if got := q.Drain(); !slices.Equal(got, []string{"d", "e", "f", "g"}) {
		t.Errorf("Drain after wrap = %v", got)
	}
}

func TestDisconnectQueueOverflow(t *testing.T) {
	t.Parallel()
	var overflowed []string
	q := NewDisconnectQueue(2, func(id string) { overflowed = append(overflowed, id) })

	q.Push("a")
	q.Push("b")
	if q.Push("c") {
		t.Error("Push on a full queue = true")
	}
	if q.Dropped() != 1 || !slices.Equal(overflowed, []string{"c"}) {
		t.Errorf("Dropped = %d overflowed = %v", q.Dropped(), overflowed)
	}
	if got := q.Drain(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Drain = %v, want the accepted entries", got)
	}
}

func TestDisconnectQueueNilIsInert(t *testing.T) {
	t.Parallel()
	var q *DisconnectQueue
	if q.Push("a") || q.Len() != 0 || q.Drain() != nil || q.Dropped() != 0 {
		t.Error("nil queue is not inert")
	}
}

func TestDisconnectQueueConcurrentProducers(t *testing.T) {
	t.Parallel()
	const producers, each = 8, 100
	q := NewDisconnectQueue(producers*each, nil)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				q.Push(fmt.Sprintf("%d-%d", p, i))
			}
		}()
	}

	var drained []string
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		default:
		}
		drained = append(drained, q.Drain()...)
	}

	if len(drained) != producers*each {
		t.Fatalf("drained %d ids, want %d", len(drained), producers*each)
	}
	// Per-producer order survives interleaving.
	last := make(map[string]int)
	for _, id := range drained {
		var p, i int
		fmt.Sscanf(id, "%d-%d", &p, &i)
		key := fmt.Sprint(p)
		if prev, ok := last[key]; ok && i <= prev {
			t.Fatalf("producer %d out of order: %d after %d", p, i, prev)
		}
		last[key] = i
	}
}
