package dispatch

import (
	"sync"
	"time"
)

// Timeout is the mutable timeout reference shared between a caller and the
// task it dispatches. The budget bounds how long the caller waits for the
// task; a task that knows no further waiting is useful may Cancel it, which
// cuts the caller's grace pause short. It never interrupts the task.
type Timeout struct {
	budget    time.Duration
	once      sync.Once
	cancelled chan struct{}
}

// NewTimeout returns a reference with the given wait budget. A budget of
// zero or less means unbounded.
func NewTimeout(budget time.Duration) *Timeout {
	return &Timeout{budget: budget, cancelled: make(chan struct{})}
}

// Throwaway returns an unbounded reference nobody else holds, for paths that
// must run unconditionally.
func Throwaway() *Timeout {
	return NewTimeout(0)
}

func (t *Timeout) Budget() time.Duration {
	return t.budget
}

func (t *Timeout) Cancel() {
	t.once.Do(func() { close(t.cancelled) })
}

func (t *Timeout) Cancelled() <-chan struct{} {
	return t.cancelled
}

func (t *Timeout) IsCancelled() bool {
	select {
	case <-t.cancelled:
		return true
	default:
		return false
	}
}
