package shelfarm

import (
	"context"
	"sync"
)

// Mailbox hands lines from the reader goroutine to a single consumer. It holds at most
// capacity unread lines; when full the oldest is dropped, so capacity 1 keeps only the
// most recent line.
type Mailbox struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	dropped  int
	err      error

	notify chan struct{}
	done   chan struct{}
}

// NewMailbox returns an open mailbox. Capacities below 1 are raised to 1.
func NewMailbox(capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put stores a line. Lines put after Close are discarded.
func (m *Mailbox) Put(line string) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	if len(m.lines) == m.capacity {
		m.lines = m.lines[1:]
		m.dropped++
	}
	m.lines = append(m.lines, line)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a line is available, the mailbox is closed or ctx is done. Lines
// stored before Close are still returned.
func (m *Mailbox) Pop(ctx context.Context) (string, error) {
	for {
		if line, ok, err := m.take(); ok || err != nil {
			return line, err
		}
		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// TryPop returns the oldest line without blocking.
func (m *Mailbox) TryPop() (string, bool) {
	line, ok, _ := m.take()
	return line, ok
}

func (m *Mailbox) take() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lines) > 0 {
		line := m.lines[0]
		m.lines = m.lines[1:]
		return line, true, nil
	}
	return "", false, m.err
}

// Close wakes every waiter. Pop returns err once buffered lines are drained; a nil err
// becomes ErrChannelClosed. Only the first Close has effect.
func (m *Mailbox) Close(err error) {
	if err == nil {
		err = ErrChannelClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	close(m.done)
}

// Len returns the number of unread lines.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Dropped returns how many unread lines were overwritten.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
