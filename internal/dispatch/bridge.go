// Package dispatch runs work on a session's dedicated engine goroutine.
//
// Every engine and view call of a session goes through one Bridge. Tasks
// execute one at a time in the order they were enqueued, which is the only
// synchronization engine state gets.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/metrics"
)

// Pause selects whether Exec lingers after a task completes.
type Pause int

const (
	// PauseNone returns as soon as the task is done.
	PauseNone Pause = iota
	// PauseShort waits the bridge grace interval so notifications the task
	// triggered on the engine can land before the caller reads shared state.
	PauseShort
)

func (p Pause) String() string {
	if p == PauseShort {
		return "short"
	}
	return "none"
}

const (
	DefaultGrace = 20 * time.Millisecond
	queueSize    = 1024
)

var (
	// ErrUnavailable is returned once the engine goroutine has been shut down.
	ErrUnavailable = errors.New("session unavailable: engine thread is not running")
	// ErrTimeout is returned when the caller's wait budget runs out before the
	// task finishes. The task itself keeps running.
	ErrTimeout = errors.New("engine task did not complete in time")
)

type result struct {
	value any
	err   error
}

type task struct {
	fn     func() (any, error)
	done   chan result
	queued time.Time
}

func newTask(fn func() (any, error)) *task {
	return &task{fn: fn, done: make(chan result, 1), queued: time.Now()}
}

// Bridge hands closures to a single worker goroutine.
type Bridge struct {
	tasks   chan *task
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	grace time.Duration
	log   *logrus.Entry
}

type Option func(*Bridge)

// WithGrace sets the PauseShort interval.
func WithGrace(d time.Duration) Option {
	return func(b *Bridge) { b.grace = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(b *Bridge) { b.log = log }
}

// New starts the worker goroutine.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		tasks:   make(chan *task, queueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		grace:   DefaultGrace,
		log:     logrus.NewEntry(logging.NullLogger()),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	// cgo engines are bound to the OS thread that created them.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.stopped)

	for {
		// quit wins over queued work
		select {
		case <-b.quit:
			b.drain()
			return
		default:
		}

		select {
		case <-b.quit:
			b.drain()
			return
		case t := <-b.tasks:
			b.execute(t)
		}
	}
}

func (b *Bridge) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Error("engine task panicked")
			t.done <- result{err: fmt.Errorf("engine task panicked: %v", r)}
		}
	}()

	v, err := t.fn()
	metrics.DispatchLatency.Observe(time.Since(t.queued).Seconds())
	t.done <- result{value: v, err: err}
}

func (b *Bridge) drain() {
	for {
		select {
		case t := <-b.tasks:
			t.done <- result{err: ErrUnavailable}
		default:
			return
		}
	}
}

// Exec runs fn on the engine goroutine and blocks until it returns, then
// applies pause. ref bounds how long the caller waits for the task; a nil
// ref waits until the task is done or ctx ends.
func (b *Bridge) Exec(ctx context.Context, pause Pause, ref *Timeout, fn func() (any, error)) (any, error) {
	if ref == nil {
		ref = Throwaway()
	}
	if b.closed() {
		return nil, ErrUnavailable
	}

	t := newTask(fn)
	select {
	case b.tasks <- t:
	case <-b.quit:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var expired <-chan time.Time
	if d := ref.Budget(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	var res result
	select {
	case res = <-t.done:
	case <-b.stopped:
		select {
		case res = <-t.done:
		default:
			return nil, ErrUnavailable
		}
	case <-expired:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if pause == PauseShort {
		b.linger(ctx, ref)
	}
	return res.value, res.err
}

func (b *Bridge) linger(ctx context.Context, ref *Timeout) {
	if b.grace <= 0 || ref.IsCancelled() {
		return
	}
	timer := time.NewTimer(b.grace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ref.Cancelled():
	case <-ctx.Done():
	}
}

// Run is Exec for tasks without a result.
func (b *Bridge) Run(ctx context.Context, pause Pause, ref *Timeout, fn func() error) error {
	_, err := b.Exec(ctx, pause, ref, func() (any, error) {
		return nil, fn()
	})
	return err
}

// Call is Exec with a typed result.
func Call[T any](ctx context.Context, b *Bridge, pause Pause, ref *Timeout, fn func() (T, error)) (T, error) {
	v, err := b.Exec(ctx, pause, ref, func() (any, error) {
		return fn()
	})
	out, _ := v.(T)
	return out, err
}

// Post enqueues fn without waiting for it. Engines use it to deliver
// asynchronous notifications on the engine goroutine. It reports false once
// the bridge is closed.
func (b *Bridge) Post(fn func()) bool {
	t := newTask(func() (any, error) {
		fn()
		return nil, nil
	})
	select {
	case b.tasks <- t:
		return true
	case <-b.quit:
		return false
	}
}

// Close stops the worker after the task it is running. Queued tasks fail
// with ErrUnavailable. Close does not wait; use Done for that.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.quit) })
}

// Done is closed once the worker goroutine has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.stopped
}

func (b *Bridge) closed() bool {
	select {
	case <-b.quit:
		return true
	default:
		return false
	}
}
