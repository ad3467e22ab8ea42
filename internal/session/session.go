package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/dispatch"
	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
	"github.com/zj793039327/jBrowserDriver/internal/status"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

type state int

const (
	stateIdle state = iota
	stateReady
	stateFailed
	stateQuit
)

// Options configure a Session.
type Options struct {
	Factory engine.Factory
	Logger  *logrus.Logger
	Dirs    models.Dirs
	// Grace is the pause applied after navigation tasks.
	Grace time.Duration
}

// Session drives one engine. Every engine call is funnelled through the
// session's dispatch bridge; the load status slot and the settings value
// are the only state shared with caller goroutines.
type Session struct {
	id      string
	factory engine.Factory
	dirs    models.Dirs
	grace   time.Duration
	log     *logrus.Entry
	sink    *logging.Sink

	status   *status.Monitor
	settings atomic.Pointer[models.Settings]

	mu      sync.Mutex
	state   state
	initErr error
	bridge  *dispatch.Bridge

	// owned by the engine goroutine
	eng     engine.Engine
	windows *registry
}

// New returns a session whose engine starts on first use.
func New(id string, settings models.Settings, opts Options) *Session {
	base := opts.Logger
	if base == nil {
		base = logging.NullLogger()
	}
	if opts.Grace == 0 {
		opts.Grace = dispatch.DefaultGrace
	}
	log, sink := logging.ForSession(base, id, settings.MaxLogEntries)

	s := &Session{
		id:      id,
		factory: opts.Factory,
		dirs:    opts.Dirs,
		grace:   opts.Grace,
		log:     log,
		sink:    sink,
		status:  status.NewMonitor(),
		windows: newRegistry(),
	}
	s.settings.Store(&settings)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Settings returns the active settings. After Quit it returns the zero value.
func (s *Session) Settings() models.Settings {
	if p := s.settings.Load(); p != nil {
		return *p
	}
	return models.Settings{}
}

// updateSettings replaces the settings with fn's result. fn sees the value
// it replaces, so concurrent updates never write back a stale snapshot. It
// fails with ErrUnavailable once Quit has dropped the settings.
func (s *Session) updateSettings(fn func(models.Settings) (models.Settings, error)) error {
	for {
		cur := s.settings.Load()
		if cur == nil {
			return ErrUnavailable
		}
		next, err := fn(*cur)
		if err != nil {
			return err
		}
		if s.settings.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

// Init starts the engine if it is not running yet. It is safe to call
// repeatedly and from any goroutine.
func (s *Session) Init(ctx context.Context) error {
	_, err := s.init(ctx)
	return err
}

func (s *Session) init(ctx context.Context) (*dispatch.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReady:
		return s.bridge, nil
	case stateFailed:
		return nil, s.initErr
	case stateQuit:
		return nil, ErrUnavailable
	}

	settings := s.Settings()
	b := dispatch.New(dispatch.WithGrace(s.grace), dispatch.WithLogger(s.log))

	// start-up outlives the request that triggered it
	bootCtx := context.WithoutCancel(ctx)
	err := b.Run(bootCtx, dispatch.PauseNone, nil, func() error {
		eng, err := s.factory.New(bootCtx, engine.Options{
			SessionID: s.id,
			Settings:  settings,
			Dirs:      s.dirs,
			Listener:  loadListener{s},
			Post:      b.Post,
			Logger:    s.log,
		})
		if err != nil {
			return err
		}
		s.eng = eng
		_, err = s.windows.open(eng)
		return err
	})
	if err != nil {
		b.Close()
		s.state = stateFailed
		s.initErr = fmt.Errorf("%w: %v", ErrBootstrap, err)
		s.log.WithError(err).WithField("backend", s.factory.Name()).Error("engine bootstrap failed")
		return nil, s.initErr
	}

	s.bridge = b
	s.state = stateReady
	s.log.WithField("backend", s.factory.Name()).Info("engine started")
	return b, nil
}

// Reset abandons in-flight work, clears cookies, logs and load status, and
// applies settings as a whole. The engine goroutine keeps running and the
// session ends up with a single fresh window.
func (s *Session) Reset(ctx context.Context, settings models.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	b, err := s.init(ctx)
	if err != nil {
		return err
	}

	err = b.Run(context.WithoutCancel(ctx), dispatch.PauseNone, nil, func() error {
		eng, err := s.engine()
		if err != nil {
			return err
		}
		s.teardown()
		if err := s.windows.closeAll(); err != nil {
			s.log.WithError(err).Warn("closing windows during reset")
		}
		if err := eng.ClearCookies(); err != nil {
			s.log.WithError(err).Warn("clearing cookies during reset")
		}
		if err := eng.Configure(settings); err != nil {
			return fmt.Errorf("configure engine: %w", err)
		}
		_, err = s.windows.open(eng)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.updateSettings(func(models.Settings) (models.Settings, error) {
		return settings, nil
	}); err != nil {
		return err
	}
	s.log.Debug("session reset")
	s.sink.Clear()
	s.status.Reset()
	return nil
}

// Quit abandons in-flight work and shuts the engine down. The session
// cannot be used afterwards. Quit waits for the engine at most until ctx
// ends; an engine stuck in a task is closed once that task returns.
func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateQuit
	b := s.bridge
	s.settings.Store(nil)
	s.mu.Unlock()
	defer s.status.Reset()

	if prev != stateReady {
		return nil
	}

	err := b.Run(ctx, dispatch.PauseNone, nil, s.shutdown)
	b.Close()

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.log.WithError(err).Warn("engine busy at quit, closing it in the background")
		go func() {
			<-b.Done()
			// the worker is gone, so the engine is ours now
			if err := s.shutdown(); err != nil {
				s.log.WithError(err).Warn("engine shutdown reported errors")
			}
		}()
		return fmt.Errorf("quit: %w", err)
	}
	if err != nil && !errors.Is(err, ErrUnavailable) {
		s.log.WithError(err).Warn("engine shutdown reported errors")
		return err
	}
	s.log.Info("session quit")
	return nil
}

// shutdown closes every window and the engine. It runs on the engine
// goroutine, or after that goroutine has exited.
func (s *Session) shutdown() error {
	if s.eng == nil {
		return nil
	}
	s.teardown()
	err := errors.Join(s.windows.closeAll(), s.eng.Close())
	s.eng = nil
	return err
}

// Kill is Quit.
func (s *Session) Kill(ctx context.Context) error {
	return s.Quit(ctx)
}

// Closed reports whether Quit has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateQuit
}

// teardown cancels pending loads and stops every window. Engine goroutine only.
func (s *Session) teardown() {
	for _, h := range s.windows.handles() {
		view := s.windows.views[h]
		if err := view.Cancel(); err != nil {
			s.log.WithError(err).WithField("window", h).Debug("cancel load")
		}
		if err := view.Stop(); err != nil {
			s.log.WithError(err).WithField("window", h).Debug("stop view")
		}
	}
}

// engine returns the live engine. Engine goroutine only.
func (s *Session) engine() (engine.Engine, error) {
	if s.eng == nil {
		return nil, ErrUnavailable
	}
	return s.eng, nil
}

// view returns the active window's view, opening one if none exist.
// Engine goroutine only.
func (s *Session) view() (engine.View, error) {
	eng, err := s.engine()
	if err != nil {
		return nil, err
	}
	return s.windows.active(eng)
}

// onView runs fn against the active view on the engine goroutine.
func onView[T any](ctx context.Context, s *Session, fn func(engine.View) (T, error)) (T, error) {
	b, err := s.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return dispatch.Call(ctx, b, dispatch.PauseNone, nil, func() (T, error) {
		v, err := s.view()
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(v)
	})
}

type loadListener struct {
	s *Session
}

func (l loadListener) LoadStarted() {
	l.s.status.Reset()
}

func (l loadListener) LoadFinished(code int) {
	if l.s.status.Post(code) {
		l.s.log.WithField("status", code).Debug("load finished")
	}
}
