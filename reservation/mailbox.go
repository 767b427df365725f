package reservation

import "sync"

// mailbox is an unbounded FIFO between a producer that must never block and
// a consumer reading Out. Items are delivered in the order they were put.
type mailbox[T any] struct {
	mu     sync.Mutex
	closed bool
	in     chan T
	out    chan T
	quit   chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	m := &mailbox[T]{
		in:   make(chan T),
		out:  make(chan T),
		quit: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox[T]) run() {
	defer close(m.out)

	var queue []T
	in := m.in
	for {
		if in == nil && len(queue) == 0 {
			return
		}
		var out chan T
		var next T
		if len(queue) > 0 {
			out = m.out
			next = queue[0]
		}
		select {
		case item, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, item)
		case out <- next:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		case <-m.quit:
			return
		}
	}
}

// Put enqueues item. It reports false once the mailbox is closed.
func (m *mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.in <- item
	return true
}

func (m *mailbox[T]) Out() <-chan T {
	return m.out
}

// Close stops accepting items; queued items are still delivered before Out
// is closed.
func (m *mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.in)
}

// Discard stops accepting items, drops whatever is queued and closes Out.
func (m *mailbox[T]) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.quit:
		return
	default:
	}
	close(m.quit)
	if !m.closed {
		m.closed = true
		close(m.in)
	}
}
