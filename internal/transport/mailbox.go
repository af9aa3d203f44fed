package transport

import "sync"

// mailbox is an unbounded FIFO of events feeding a channel's Events stream.
// Producers never block; the run goroutine drains it and exits after the
// final event.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	out    chan Event
}

func newMailbox() *mailbox {
	m := &mailbox{out: make(chan Event)}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

func (m *mailbox) put(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
	return true
}

// close queues the final EventClosed. Only the first call has any effect.
func (m *mailbox) close(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, Event{Kind: EventClosed, Err: err})
	m.closed = true
	m.cond.Signal()
	return true
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.out <- ev
	}
}
