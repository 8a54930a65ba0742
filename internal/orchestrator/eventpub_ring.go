package orchestrator

import "sync"

// RingPublisher keeps the most recent events in a fixed-size buffer for the
// status server.
type RingPublisher struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewRingPublisher keeps up to size events (minimum 1).
func NewRingPublisher(size int) *RingPublisher {
	if size < 1 {
		size = 1
	}
	return &RingPublisher{buf: make([]Event, size)}
}

func (r *RingPublisher) Publish(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to n events, oldest first. n <= 0 returns all retained.
func (r *RingPublisher) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Event
	if r.full {
		all = append(all, r.buf[r.next:]...)
	}
	all = append(all, r.buf[:r.next]...)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
