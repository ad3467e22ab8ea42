// Package status holds the load status slot of a session.
package status

import (
	"context"
	"sync"
	"time"
)

// LoadFailed is posted when the engine gives up on a load without an HTTP status.
const LoadFailed = -1

// Monitor is a single status slot callers can block on. It has its own lock
// so the engine goroutine can post while callers wait on unrelated work.
type Monitor struct {
	mu      sync.Mutex
	code    int
	changed chan struct{} // closed and replaced on every post
}

func NewMonitor() *Monitor {
	return &Monitor{changed: make(chan struct{})}
}

// Reset clears the slot before a navigation is issued.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}

// Post records a terminal code. Only the first post after a reset sticks;
// it reports whether this one did.
func (m *Monitor) Post(code int) bool {
	if code == 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.code != 0 {
		return false
	}
	m.code = code
	close(m.changed)
	m.changed = make(chan struct{})
	return true
}

func (m *Monitor) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// Await blocks until the slot is non-zero, timeout elapses, or ctx is done,
// and returns whatever the slot holds at that point. A timeout shows up only
// as a zero result. A timeout of zero or less does not wait.
func (m *Monitor) Await(ctx context.Context, timeout time.Duration) int {
	m.mu.Lock()
	code, changed := m.code, m.changed
	m.mu.Unlock()
	if code != 0 || timeout <= 0 {
		return code
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-changed:
		case <-timer.C:
			return m.Current()
		case <-ctx.Done():
			return m.Current()
		}

		m.mu.Lock()
		code, changed = m.code, m.changed
		m.mu.Unlock()
		if code != 0 {
			return code
		}
	}
}
