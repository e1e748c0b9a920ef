package session

import (
	"context"
	"sync"
)

// Mailbox is a single-slot answer holder with a wake-up signal.
// It is not a queue: the last Set wins.
type Mailbox struct {
	mu    sync.Mutex
	text  string
	isSet bool
	ready chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{})}
}

// Clear empties the slot and resets the signal.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = ""
	if m.isSet {
		m.ready = make(chan struct{})
		m.isSet = false
	}
}

// Set stores text and wakes every waiter.
func (m *Mailbox) Set(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	if !m.isSet {
		close(m.ready)
		m.isSet = true
	}
}

// Text returns the current value of the slot.
func (m *Mailbox) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Wait blocks until the signal is raised or ctx ends.
func (m *Mailbox) Wait(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
